package websocket

import (
	"testing"
	"time"

	"autotrade/internal/models"
	"autotrade/pkg/utils"
)

// ============================================================
// Unit Tests
// ============================================================

func hubTestLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

func TestNewHub(t *testing.T) {
	hub := NewHub(hubTestLogger())

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // non-browser clients allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{
		allowAll: true,
	}

	origins := []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	}

	for _, origin := range origins {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub(hubTestLogger())
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8)}
	hub.register <- client

	waitForClients(t, hub, 1)

	hub.BroadcastStateChange(models.StateRunning, models.StateStopping, "user_request")

	select {
	case data := <-client.send:
		var msg StateChangeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("broadcast payload is not valid JSON: %v", err)
		}
		if msg.Type != MessageTypeStateChange {
			t.Errorf("Type = %s, want %s", msg.Type, MessageTypeStateChange)
		}
		if msg.Data == nil || msg.Data.From != models.StateRunning || msg.Data.To != models.StateStopping {
			t.Errorf("transition data = %+v", msg.Data)
		}
		if msg.Data != nil && msg.Data.Description == "" {
			t.Error("Description must be populated")
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive broadcast")
	}

	hub.unregister <- client
	waitForClients(t, hub, 0)
}

func TestHub_SlowClientEvicted(t *testing.T) {
	hub := NewHub(hubTestLogger())
	go hub.Run()

	// Буфер на одно сообщение: второй broadcast переполняет его
	slow := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	waitForClients(t, hub, 1)

	hub.Broadcast(map[string]string{"n": "1"})
	hub.Broadcast(map[string]string{"n": "2"})

	waitForClients(t, hub, 0)

	// Канал выселенного клиента закрыт
	select {
	case _, ok := <-slow.send:
		if !ok {
			return // сообщение уже вычитано, канал закрыт
		}
	case <-time.After(time.Second):
		t.Fatal("slow client send channel was not drained/closed")
	}
	if _, ok := <-slow.send; ok {
		t.Error("send channel must be closed after eviction")
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(hubTestLogger())
	// Run() намеренно не запущен: канал broadcast переполняется

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(map[string]int{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
		// Broadcast не блокируется при заполненном канале
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}
}

func TestHub_BroadcastNotification(t *testing.T) {
	hub := NewHub(hubTestLogger())
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8)}
	hub.register <- client
	waitForClients(t, hub, 1)

	dealID := "d1"
	hub.BroadcastNotification(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeSLWarning,
		Severity:  models.SeverityWarn,
		DealID:    &dealID,
		Message:   "Price drop 6.00% on BTC/USDT",
	})

	select {
	case data := <-client.send:
		var msg NotificationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if msg.Type != MessageTypeNotification {
			t.Errorf("Type = %s, want %s", msg.Type, MessageTypeNotification)
		}
		if msg.Data == nil || msg.Data.Type != models.NotificationTypeSLWarning {
			t.Errorf("notification data = %+v", msg.Data)
		}
		if msg.Data != nil && (msg.Data.DealID == nil || *msg.Data.DealID != "d1") {
			t.Error("notification must reference the deal")
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive notification")
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
}

// ============================================================
// Benchmarks
// ============================================================

// BenchmarkHub_Broadcast тестирует скорость сериализации и постановки в очередь
func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(hubTestLogger())
	go hub.Run()

	msg := NewStateChangeMessage(models.StateRunning, models.StatePausing, "benchmark")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}
