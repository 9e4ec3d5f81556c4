package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/schema"
)

type stubAuth struct {
	password string
}

func (a *stubAuth) Authenticate(username, password, totp string) error {
	if password != a.password {
		return errors.New("invalid credentials")
	}
	return nil
}

func (a *stubAuth) ChangePassword(username, currentPassword, totp, newPassword string) error {
	if currentPassword != a.password {
		return errors.New("invalid credentials")
	}
	a.password = newPassword
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, core.Service) {
	t.Helper()
	hub := NewHub(64)
	service, err := core.NewService(schema.ServiceConfig{AutoCreate: true}, core.ServiceDeps{EventSink: hub})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := NewServer(Config{
		SessionCookie:   "test_session",
		SessionTTLHours: 1,
		RelayKey:        "relay-key",
		StreamEvents:    64,
	}, service, &stubAuth{password: "pw"}, hub)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, service
}

func login(t *testing.T, ts *httptest.Server) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "op", "password": "pw", "totp": "000000"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "test_session" {
			return cookie
		}
	}
	t.Fatal("login cookie missing")
	return nil
}

func doJSON(t *testing.T, method, url string, payload any, cookie *http.Cookie, bearer string) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestOperatorEndpointsRequireSession(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestClientEndpointsRequireRelayKey(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/record?session=s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/record?session=s1", nil, nil, "wrong-key")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", resp.StatusCode)
	}
}

func TestClientRecordMergeAndGet(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPatch, ts.URL+"/v1/record", map[string]any{
		"session": "sess-1",
		"fields":  map[string]string{"deviceNumber": "12345"},
	}, nil, "relay-key")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("merge status %d", resp.StatusCode)
	}

	get := doJSON(t, http.MethodGet, ts.URL+"/v1/record?session=sess-1", nil, nil, "relay-key")
	defer func() { _ = get.Body.Close() }()
	var payload schema.GetRecordResponse
	if err := json.NewDecoder(get.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Record.Fields["deviceNumber"] != "12345" {
		t.Fatalf("unexpected record: %+v", payload.Record)
	}
}

func TestOperatorCommandVisibleToClient(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts)

	create := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]string{"session": "sess-2"}, cookie, "")
	_ = create.Body.Close()
	if create.StatusCode != http.StatusOK {
		t.Fatalf("create status %d", create.StatusCode)
	}

	push := doJSON(t, http.MethodPost, ts.URL+"/api/command", map[string]string{
		"session": "sess-2",
		"token":   "invalid_code",
	}, cookie, "")
	_ = push.Body.Close()
	if push.StatusCode != http.StatusOK {
		t.Fatalf("push status %d", push.StatusCode)
	}

	latest := doJSON(t, http.MethodGet, ts.URL+"/v1/commands/latest?session=sess-2", nil, nil, "relay-key")
	defer func() { _ = latest.Body.Close() }()
	var payload schema.LatestCommandResponse
	if err := json.NewDecoder(latest.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Ok || payload.Token != "invalid_code" {
		t.Fatalf("unexpected latest command: %+v", payload)
	}

	cleared := doJSON(t, http.MethodDelete, ts.URL+"/v1/commands?session=sess-2", nil, nil, "relay-key")
	_ = cleared.Body.Close()
	if cleared.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d", cleared.StatusCode)
	}
	latest = doJSON(t, http.MethodGet, ts.URL+"/v1/commands/latest?session=sess-2", nil, nil, "relay-key")
	defer func() { _ = latest.Body.Close() }()
	payload = schema.LatestCommandResponse{}
	if err := json.NewDecoder(latest.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Ok {
		t.Fatalf("expected cleared commands, got %+v", payload)
	}
}

func TestMissingSessionMapsToNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts)
	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/sessions?session=nope", nil, cookie, "")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClientStreamSendsSnapshotThenEvents(t *testing.T) {
	ts, service := newTestServer(t)
	seed := doJSON(t, http.MethodPatch, ts.URL+"/v1/record", map[string]any{
		"session": "sess-3",
		"fields":  map[string]string{"email": "a@b.c"},
	}, nil, "relay-key")
	_ = seed.Body.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/stream?session=sess-3", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer relay-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan StreamEvent, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			events <- event
		}
	}()

	snapshot := waitEvent(t, events)
	if snapshot.Type != "snapshot" || snapshot.Record == nil || snapshot.Record.Fields["email"] != "a@b.c" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	if _, err := service.PushCommand(req.Context(), schema.PushCommandRequest{
		Session: "sess-3",
		Token:   "advance_next",
	}); err != nil {
		t.Fatalf("push command: %v", err)
	}
	live := waitEvent(t, events)
	if live.Type != "command" || live.Token != "advance_next" {
		t.Fatalf("unexpected live event: %+v", live)
	}
}

func waitEvent(t *testing.T, events <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return StreamEvent{}
	}
}
