package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/syncrelay/schema"
)

// Event is a live update delivered to a subscription handler.
type Event struct {
	Seq          uint64              `json:"seq"`
	Type         string              `json:"type"`
	Session      schema.SessionID    `json:"session"`
	Record       *schema.Record      `json:"record,omitempty"`
	Token        schema.CommandToken `json:"token,omitempty"`
	SessionEvent string              `json:"session_event,omitempty"`
	Source       schema.Source       `json:"source,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Handler receives events in order, one at a time.
type Handler func(Event)

// Subscribe opens the event stream for a session and invokes handler for
// every event, starting with the server's snapshot of the current record.
// The stream reconnects after transport failures, resuming from the last
// seen sequence number. The returned stop function tears the stream down
// and waits for the handler to finish.
func (c *Client) Subscribe(ctx context.Context, session schema.SessionID, handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if err := schema.ValidateSessionID(session); err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.streamLoop(streamCtx, session, handler)
	}()
	stop := func() {
		cancel()
		wg.Wait()
	}
	return stop, nil
}

func (c *Client) streamLoop(ctx context.Context, session schema.SessionID, handler Handler) {
	var lastSeq uint64
	for {
		if ctx.Err() != nil {
			return
		}
		seq, err := c.streamOnce(ctx, session, lastSeq, handler)
		if seq > lastSeq {
			lastSeq = seq
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil && c.log != nil {
			c.log.Warn("stream disconnected", "session", session, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, session schema.SessionID, lastSeq uint64, handler Handler) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream?session="+url.QueryEscape(string(session)), nil)
	if err != nil {
		return lastSeq, err
	}
	req.Header.Set("Authorization", "Bearer "+c.relayKey)
	req.Header.Set("Accept", "text/event-stream")
	if lastSeq > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", lastSeq))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lastSeq, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return lastSeq, apiError(resp)
	}
	if c.log != nil {
		c.log.Debug("stream connected", "session", session, "last_seq", lastSeq)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			if c.log != nil {
				c.log.Warn("stream decode failed", "session", session, "err", err)
			}
			continue
		}
		if event.Seq > 0 && event.Seq <= lastSeq {
			continue
		}
		handler(event)
		if event.Seq > lastSeq {
			lastSeq = event.Seq
		}
	}
	return lastSeq, scanner.Err()
}
