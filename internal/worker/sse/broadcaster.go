// Package sse streams capture activity to dashboard clients over
// Server-Sent Events: stored conversations, detected patterns, and session
// lifecycle changes.
package sse

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// sendBuffer is the per-client message backlog. A client that falls this
// far behind is dropped rather than allowed to stall the capture path.
const sendBuffer = 16

// Event types pushed on the stream.
const (
	EventConversation = "conversation"
	EventPattern      = "pattern"
	EventSession      = "session"
)

// Event is one message on the activity stream.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// client owns no writer: messages go through ch and only the client's
// handler goroutine touches the ResponseWriter, so nothing can write to a
// connection after its handler returned.
type client struct {
	id   string
	ch   chan string
	done chan struct{}
}

// Broadcaster fans events out to every connected stream client.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*client)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues one event for every client. Never blocks: a client whose
// backlog is full is dropped.
func (b *Broadcaster) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", event.Type).Msg("Failed to encode stream event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	var dead []string
	for _, c := range targets {
		select {
		case c.ch <- message:
		case <-c.done:
		default:
			log.Warn().Str("client_id", c.id).Msg("Stream client not draining, dropping")
			dead = append(dead, c.id)
		}
	}
	for _, id := range dead {
		b.drop(id)
	}
}

func (b *Broadcaster) add() *client {
	b.mu.Lock()
	b.nextID++
	c := &client{
		id:   fmt.Sprintf("client-%d", b.nextID),
		ch:   make(chan string, sendBuffer),
		done: make(chan struct{}),
	}
	b.clients[c.id] = c
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("client_id", c.id).Int("total_clients", total).Msg("Stream client connected")
	return c
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if ok {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		log.Debug().Str("client_id", id).Int("total_clients", total).Msg("Stream client disconnected")
	}
}

// ServeHTTP implements the GET /api/events handler. All writes to the
// connection happen here, on the handler goroutine.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	c := b.add()
	defer b.drop(c.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"clientId\":%q}\n\n", c.id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case msg := <-c.ch:
			if _, err := io.WriteString(w, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
