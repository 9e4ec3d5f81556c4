package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/httpapi"
	"pkt.systems/syncrelay/schema"
)

func newRelay(t *testing.T) (*httptest.Server, core.Service) {
	t.Helper()
	hub := httpapi.NewHub(64)
	service, err := core.NewService(schema.ServiceConfig{AutoCreate: true}, core.ServiceDeps{EventSink: hub})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := httpapi.NewServer(httpapi.Config{
		SessionCookie:   "test_session",
		SessionTTLHours: 1,
		RelayKey:        "relay-key",
	}, service, nil, hub)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, service
}

func newClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:        ts.URL,
		RelayKey:       "relay-key",
		ReconnectDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{RelayKey: "k"}); err == nil {
		t.Fatal("expected missing base url to fail")
	}
	if _, err := New(Config{BaseURL: "not-a-url", RelayKey: "k"}); err == nil {
		t.Fatal("expected invalid base url to fail")
	}
	if _, err := New(Config{BaseURL: "http://localhost:1"}); err == nil {
		t.Fatal("expected missing relay key to fail")
	}
}

func TestUpdateAndGetRecord(t *testing.T) {
	ts, _ := newRelay(t)
	c := newClient(t, ts)
	ctx := context.Background()

	record, err := c.Update(ctx, "sess-1", map[schema.FieldKey]string{
		schema.FieldDeviceNumber: "12345",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.Fields[schema.FieldDeviceNumber] != "12345" {
		t.Fatalf("unexpected record: %+v", record)
	}

	got, err := c.GetRecord(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Fields[schema.FieldDeviceNumber] != "12345" || got.Revision != record.Revision {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLatestCommandAndClear(t *testing.T) {
	ts, service := newRelay(t)
	c := newClient(t, ts)
	ctx := context.Background()

	if _, err := c.Update(ctx, "sess-2", map[schema.FieldKey]string{"k": "v"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, token := range []schema.CommandToken{"invalid_code", "advance_next"} {
		if _, err := service.PushCommand(ctx, schema.PushCommandRequest{Session: "sess-2", Token: token}); err != nil {
			t.Fatalf("push command: %v", err)
		}
	}
	token, ok, err := c.LatestCommand(ctx, "sess-2")
	if err != nil || !ok || token != "advance_next" {
		t.Fatalf("latest command = %q, %v, %v", token, ok, err)
	}
	if err := c.ClearCommands(ctx, "sess-2"); err != nil {
		t.Fatalf("clear commands: %v", err)
	}
	if _, ok, err := c.LatestCommand(ctx, "sess-2"); err != nil || ok {
		t.Fatalf("expected empty commands, got ok=%v err=%v", ok, err)
	}
	// Clearing again must succeed.
	if err := c.ClearCommands(ctx, "sess-2"); err != nil {
		t.Fatalf("repeat clear: %v", err)
	}
}

func TestSubscribeDeliversSnapshotAndLiveEvents(t *testing.T) {
	ts, service := newRelay(t)
	c := newClient(t, ts)
	ctx := context.Background()

	if _, err := c.Update(ctx, "sess-3", map[schema.FieldKey]string{"email": "a@b.c"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var mu sync.Mutex
	var events []Event
	arrived := make(chan struct{}, 16)
	stop, err := c.Subscribe(ctx, "sess-3", func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
		arrived <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	waitArrival(t, arrived)
	mu.Lock()
	first := events[0]
	mu.Unlock()
	if first.Type != "snapshot" || first.Record == nil || first.Record.Fields["email"] != "a@b.c" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	if _, err := service.PushCommand(ctx, schema.PushCommandRequest{Session: "sess-3", Token: "invalid_code"}); err != nil {
		t.Fatalf("push command: %v", err)
	}
	waitArrival(t, arrived)
	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.Type != "command" || last.Token != "invalid_code" {
		t.Fatalf("unexpected live event: %+v", last)
	}
}

func TestSubscribeStopTerminates(t *testing.T) {
	ts, _ := newRelay(t)
	c := newClient(t, ts)

	if _, err := c.Update(context.Background(), "sess-4", map[schema.FieldKey]string{"k": "v"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	stop, err := c.Subscribe(context.Background(), "sess-4", func(Event) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
}

func waitArrival(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
