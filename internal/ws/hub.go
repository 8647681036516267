// Package ws pushes order events to front-desk screens, one room per outlet.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/rs/zerolog/log"
)

// outletMessage is an already encoded event addressed to one outlet.
type outletMessage struct {
	outletID uuid.UUID
	data     []byte
}

// WelcomeFunc returns the events a client receives right after it joins,
// e.g. the current urgency snapshot.
type WelcomeFunc func(outletID uuid.UUID) []notify.Event

// Hub keeps the connected clients by outlet and fans messages out to them.
type Hub struct {
	rooms map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan outletMessage

	welcome WelcomeFunc

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outletMessage, 256),
	}
}

// SetWelcome installs fn. Call before Run.
func (h *Hub) SetWelcome(fn WelcomeFunc) {
	h.welcome = fn
}

// Run is the hub loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for oid, clients := range h.rooms {
				for c := range clients {
					close(c.send)
				}
				delete(h.rooms, oid)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.outletID] == nil {
				h.rooms[c.outletID] = make(map[*Client]struct{})
			}
			h.rooms[c.outletID][c] = struct{}{}
			h.mu.Unlock()
			h.greet(c)

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.outletID] {
				select {
				case c.send <- m.data:
				default:
					log.Warn().Stringer("outlet_id", m.outletID).Msg("ws: client too slow, dropping")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c and closes its send channel. Caller holds mu.
func (h *Hub) drop(c *Client) {
	clients, ok := h.rooms[c.outletID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.rooms, c.outletID)
	}
}

func (h *Hub) greet(c *Client) {
	if h.welcome == nil {
		return
	}
	for _, e := range h.welcome(c.outletID) {
		data, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("type", e.Type).Msg("ws: marshal welcome")
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// BroadcastToOutlet queues data for every client of outletID. When the queue
// is full the message is dropped.
func (h *Hub) BroadcastToOutlet(outletID uuid.UUID, data []byte) {
	select {
	case h.broadcast <- outletMessage{outletID: outletID, data: data}:
	default:
		log.Warn().Stringer("outlet_id", outletID).Msg("ws: broadcast queue full, dropping")
	}
}

// Notify sends e to the outlet named in it.
func (h *Hub) Notify(_ context.Context, e notify.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("ws: marshal event")
		return
	}
	h.BroadcastToOutlet(e.OutletID, data)
}

// Clients counts the connected clients of an outlet.
func (h *Hub) Clients(outletID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[outletID])
}
