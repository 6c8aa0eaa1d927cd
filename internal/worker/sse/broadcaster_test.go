package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter implements http.ResponseWriter and http.Flusher with a
// mutex, so tests can read the body while a handler goroutine writes.
type recordingWriter struct {
	mu     sync.Mutex
	body   []byte
	header http.Header
	fail   bool
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{header: make(http.Header)}
}

func (w *recordingWriter) Header() http.Header { return w.header }

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("broken pipe")
	}
	w.body = append(w.body, p...)
	return len(p), nil
}

func (w *recordingWriter) WriteHeader(int) {}
func (w *recordingWriter) Flush()          {}

func (w *recordingWriter) Body() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.body)
}

// serve runs ServeHTTP in the background and returns a cancel func plus a
// channel closed when the handler exits.
func serve(b *Broadcaster, w http.ResponseWriter) (context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(w, req)
	}()
	return cancel, done
}

func TestBroadcast_DeliversEventToAllClients(t *testing.T) {
	b := NewBroadcaster()
	clients := make([]*client, 3)
	for i := range clients {
		clients[i] = b.add()
	}

	b.Broadcast(Event{Type: EventPattern, Data: map[string]string{"description": "go -> git"}})

	for i, c := range clients {
		select {
		case msg := <-c.ch:
			assert.True(t, strings.HasPrefix(msg, "data:"), "client %d got %q", i, msg)
			assert.Contains(t, msg, `"type":"pattern"`)
			assert.Contains(t, msg, "go -> git")
		default:
			t.Fatalf("client %d missed the event", i)
		}
	}
}

func TestBroadcast_NoClientsIsNoOp(t *testing.T) {
	b := NewBroadcaster()
	assert.NotPanics(t, func() {
		b.Broadcast(Event{Type: EventSession, Data: "x"})
	})
}

func TestBroadcast_DropsClientNotDraining(t *testing.T) {
	b := NewBroadcaster()
	stuck := b.add()
	require.Equal(t, 1, b.ClientCount())

	// Nothing reads stuck.ch; once the backlog is full the client goes.
	for i := 0; i <= sendBuffer; i++ {
		b.Broadcast(Event{Type: EventConversation, Data: i})
	}
	assert.Equal(t, 0, b.ClientCount(), "stalled client must be removed")

	select {
	case <-stuck.done:
	default:
		t.Fatal("dropped client's done channel must be closed")
	}
}

func TestBroadcast_ConcurrentIsSafe(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 10; i++ {
		b.add()
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Broadcast(Event{Type: EventPattern, Data: i})
		}(i)
	}
	wg.Wait()

	// Ten events fit in every backlog, so nobody was dropped.
	assert.Equal(t, 10, b.ClientCount())
}

func TestAdd_AssignsUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c := b.add()
		assert.False(t, seen[c.id])
		seen[c.id] = true
	}
}

func TestDrop_UnknownClientIsSafe(t *testing.T) {
	b := NewBroadcaster()
	assert.NotPanics(t, func() { b.drop("client-99") })
}

func TestServeHTTP_SendsHeadersAndGreeting(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()

	cancel, done := serve(b, rec)
	assert.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"type":"connected"`)
	assert.Equal(t, 0, b.ClientCount())
}

func TestServeHTTP_DeliversBroadcasts(t *testing.T) {
	b := NewBroadcaster()
	w := newRecordingWriter()

	cancel, done := serve(b, w)
	defer func() { cancel(); <-done }()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	b.Broadcast(Event{Type: EventPattern, Data: "go -> git"})

	assert.Eventually(t, func() bool {
		return strings.Contains(w.Body(), "go -> git")
	}, time.Second, 10*time.Millisecond)
}

func TestServeHTTP_ExitsOnWriteError(t *testing.T) {
	b := NewBroadcaster()
	w := newRecordingWriter()
	w.fail = true

	cancel, done := serve(b, w)
	defer cancel()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	b.Broadcast(Event{Type: EventConversation, Data: "x"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler must exit when the connection write fails")
	}
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcast_NeverTouchesWriterAfterHandlerExit(t *testing.T) {
	b := NewBroadcaster()
	w := newRecordingWriter()

	cancel, done := serve(b, w)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	before := w.Body()
	b.Broadcast(Event{Type: EventSession, Data: "late"})
	assert.Equal(t, before, w.Body(), "no write may reach a finished handler's connection")
	assert.Equal(t, 0, b.ClientCount())
}
