package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"revledger/core/events"
)

func TestDispatcherSignsClaimNotifications(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get("X-Treasury-Signature")
		eventType = r.Header.Get("X-Treasury-Event")
		body = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.InflowReceived{Source: "rev", Amount: "10"})
	dispatcher.Emit(events.ClaimExecuted{Source: "rev", Holder: "0xabc", Recipient: "0xabc", Amount: "7", TotalClaimed: "7"})

	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if signature != Sign([]byte("secret"), body) {
		t.Fatalf("signature mismatch: %s", signature)
	}
	if eventType != events.TypeClaimExecuted {
		t.Fatalf("unexpected event type %q", eventType)
	}
	var note Notification
	if err := json.Unmarshal(body, &note); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if note.Attributes["amount"] != "7" || note.DeliveryID == "" {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(events.ClaimFailed{Source: "rev", Holder: "0xabc", Amount: "3", Reason: "wallet offline"})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, 2*time.Second)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected three attempts, got %d", got)
	}
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Emit(events.ClaimExecuted{Source: "rev", Amount: "1"})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second)
	time.Sleep(60 * time.Millisecond)
	dispatcher.Close()
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
