package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"barsim/internal/config"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// providerStub satisfies Provider for handler tests.
type providerStub struct {
	snapshot Snapshot
	events   chan Event
}

func (p *providerStub) Snapshot() Snapshot            { return p.snapshot }
func (p *providerStub) DashboardEvents() <-chan Event { return p.events }

func testProvider() *providerStub {
	return &providerStub{
		snapshot: Snapshot{
			GeneratedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Balances: map[string]BalanceSnapshot{
				"USD": {Available: d("900"), Hold: d("97"), Total: d("997")},
			},
			OpenOrders: []OrderSnapshot{
				{ID: "o1", Pair: "BTC/USD", Operation: "BUY", Amount: d("1")},
			},
			LastBars:  []BarEvent{},
			OpenLoans: []LoanSnapshot{},
		},
		events: make(chan Event, 16),
	}
}

func newTestServer(t *testing.T) (*Server, *providerStub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := testProvider()
	return NewServer(config.DashboardConfig{Enabled: true, Port: 0}, provider, logger), provider
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got := snapshot.Balances["USD"].Available; !got.Equal(d("900")) {
		t.Errorf("USD available = %s, want 900", got)
	}
	if len(snapshot.OpenOrders) != 1 || snapshot.OpenOrders[0].ID != "o1" {
		t.Errorf("open orders = %+v", snapshot.OpenOrders)
	}
}

// dialWebSocket connects a test client to the server's /ws handler.
func dialWebSocket(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	httpServer := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(httpServer.Close)

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event.Type, event.Data
}

func TestWebSocketPrimedWithSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	conn := dialWebSocket(t, s)

	eventType, data := readEvent(t, conn)
	if eventType != "snapshot" {
		t.Fatalf("first event type = %q, want snapshot", eventType)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode snapshot payload: %v", err)
	}
	if got := snapshot.Balances["USD"].Hold; !got.Equal(d("97")) {
		t.Errorf("primed USD hold = %s, want 97", got)
	}
}

func TestWebSocketReceivesBroadcastEvents(t *testing.T) {
	t.Parallel()
	s, provider := newTestServer(t)
	conn := dialWebSocket(t, s)

	// Drain the priming snapshot first.
	if eventType, _ := readEvent(t, conn); eventType != "snapshot" {
		t.Fatalf("expected priming snapshot, got %q", eventType)
	}

	// Events flow provider -> consumeEvents -> stream -> client.
	go s.consumeEvents()
	t.Cleanup(func() { close(provider.events) })
	provider.events <- Event{
		Type:      "fill",
		Timestamp: time.Date(2020, 1, 1, 0, 1, 0, 0, time.UTC),
		Data:      FillEvent{OrderID: "o1", Pair: "BTC/USD", Operation: "BUY", State: "COMPLETED"},
	}

	eventType, data := readEvent(t, conn)
	if eventType != "fill" {
		t.Fatalf("event type = %q, want fill", eventType)
	}
	var fill FillEvent
	if err := json.Unmarshal(data, &fill); err != nil {
		t.Fatalf("decode fill payload: %v", err)
	}
	if fill.OrderID != "o1" || fill.State != "COMPLETED" {
		t.Errorf("fill = %+v", fill)
	}
}

func TestCloseAllSendsCloseFrame(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	conn := dialWebSocket(t, s)

	if eventType, _ := readEvent(t, conn); eventType != "snapshot" {
		t.Fatalf("expected priming snapshot, got %q", eventType)
	}

	s.stream.closeAll()

	// closeAll closes the connection; the client sees a close error
	// rather than a hang.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected a close error after closeAll")
	}
}

func TestBroadcastAfterClientGoneIsHarmless(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	conn := dialWebSocket(t, s)

	if eventType, _ := readEvent(t, conn); eventType != "snapshot" {
		t.Fatalf("expected priming snapshot, got %q", eventType)
	}
	conn.Close()

	// Broadcasts keep working while the stream notices the disconnect.
	for i := 0; i < 10; i++ {
		s.stream.broadcast(Event{Type: "bar", Timestamp: time.Now()})
	}
}
