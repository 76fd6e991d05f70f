package ws

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recorder struct {
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed bool
	block  chan struct{}
}

func (r *recorder) Send(p []byte) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.got = append(r.got, p)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) messages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestBroadcastReachesTargetAndWildcard(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	target, all, other := &recorder{}, &recorder{}, &recorder{}
	hub.Register("example.com", target)
	hub.Register(AllTargets, all)
	hub.Register("other.com", other)

	hub.Broadcast("example.com", []byte(`{"outcome":"accepted"}`))
	waitFor(t, func() bool { return target.messages() == 1 && all.messages() == 1 })
	if other.messages() != 0 {
		t.Fatalf("unrelated target should not receive the message")
	}
}

func TestFailedSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	broken := &recorder{fail: true}
	hub.Register("example.com", broken)
	hub.Broadcast("example.com", []byte("x"))
	waitFor(t, func() bool { return hub.Subscribers("example.com") == 0 })

	broken.mu.Lock()
	defer broken.mu.Unlock()
	if !broken.closed {
		t.Fatalf("expected failed subscriber to be closed")
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	release := make(chan struct{})
	defer close(release)
	slow, fast := &recorder{block: release}, &recorder{}
	hub.Register("example.com", slow)
	hub.Register("example.com", fast)
	waitFor(t, func() bool { return hub.Subscribers("example.com") == 2 })

	const sent = queueSize + 8
	for i := 0; i < sent; i++ {
		if !hub.Broadcast("example.com", []byte("x")) {
			t.Fatalf("broadcast %d dropped", i)
		}
		want := i + 1
		waitFor(t, func() bool { return fast.messages() == want })
	}
	waitFor(t, func() bool { return hub.Subscribers("example.com") == 1 })

	slow.mu.Lock()
	defer slow.mu.Unlock()
	if !slow.closed {
		t.Fatalf("expected lagging subscriber to be closed")
	}
}

func TestHandlerStreamsToWebsocket(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?target=example.com"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.Subscribers("example.com") == 1 })
	hub.Broadcast("example.com", []byte(`{"outcome":"rejected"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != `{"outcome":"rejected"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}
