// Package ws streams audit records to operators over websockets.
package ws

import "sync"

// AllTargets subscribes to every target's feed.
const AllTargets = "*"

// queueSize bounds the payloads buffered for one subscriber. A subscriber that
// falls further behind is dropped.
const queueSize = 32

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages feed subscriptions by target.
type Hub struct {
	clients   map[string]map[Subscriber]*feed
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	target  string
	payload []byte
}

type subscription struct {
	target string
	client Subscriber
}

type countRequest struct {
	target string
	reply  chan int
}

// feed hands queued payloads to one subscriber from its own goroutine.
type feed struct {
	target string
	client Subscriber
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

func (f *feed) pump(h *Hub) {
	for {
		select {
		case <-f.done:
			return
		case payload := <-f.queue:
			if err := f.client.Send(payload); err != nil {
				h.Unregister(f.target, f.client)
				f.stop()
				return
			}
		}
	}
}

func (f *feed) stop() {
	f.once.Do(func() {
		close(f.done)
		f.client.Close()
	})
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*feed),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for _, f := range clients {
					f.stop()
				}
			}
			return
		case sub := <-h.register:
			clients, ok := h.clients[sub.target]
			if !ok {
				clients = make(map[Subscriber]*feed)
				h.clients[sub.target] = clients
			}
			if _, dup := clients[sub.client]; dup {
				continue
			}
			f := &feed{
				target: sub.target,
				client: sub.client,
				queue:  make(chan []byte, queueSize),
				done:   make(chan struct{}),
			}
			clients[sub.client] = f
			go f.pump(h)
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.target]; ok {
				if f, ok := clients[sub.client]; ok {
					f.stop()
					delete(clients, sub.client)
				}
				if len(clients) == 0 {
					delete(h.clients, sub.target)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.target])
		case msg := <-h.broadcast:
			h.deliver(msg.target, msg.payload)
			if msg.target != AllTargets {
				h.deliver(AllTargets, msg.payload)
			}
		}
	}
}

// deliver never waits on a subscriber; one whose queue is full is dropped.
func (h *Hub) deliver(target string, payload []byte) {
	clients, ok := h.clients[target]
	if !ok {
		return
	}
	for c, f := range clients {
		select {
		case f.queue <- payload:
		default:
			f.stop()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, target)
	}
}

// Register adds a client to a target feed.
func (h *Hub) Register(target string, client Subscriber) {
	select {
	case h.register <- subscription{target: target, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(target string, client Subscriber) {
	select {
	case h.unreg <- subscription{target: target, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for the target's subscribers and for those on
// AllTargets. It drops the message when the queue is full so a slow operator
// never stalls a decision cycle.
func (h *Hub) Broadcast(target string, payload []byte) bool {
	select {
	case h.broadcast <- message{target: target, payload: payload}:
		return true
	case <-h.done:
		return false
	default:
		return false
	}
}

// Subscribers reports how many clients follow target.
func (h *Hub) Subscribers(target string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{target: target, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Stop closes every client and stops the hub.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
