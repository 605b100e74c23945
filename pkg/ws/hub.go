// Package ws implements the websocket fan-out hub behind the live ticker
// and order streams.
package ws

import (
	"encoding/json"
	"sync"

	"marketsync/pkg/logger"
)

// Hub tracks sessions per route and broadcasts payloads to them. A slow
// session drops messages instead of blocking the producer.
type Hub struct {
	mu     sync.RWMutex
	routes map[string]map[*Session]struct{}
	log    *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		routes: make(map[string]map[*Session]struct{}),
		log:    log,
	}
}

// Add registers a session on a route.
func (h *Hub) Add(route string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.routes[route]
	if !ok {
		sessions = make(map[*Session]struct{})
		h.routes[route] = sessions
	}
	sessions[s] = struct{}{}
}

// Remove unregisters a session from a route.
func (h *Hub) Remove(route string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.routes[route]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.routes, route)
		}
	}
}

// Broadcast sends payload to every session on route.
func (h *Hub) Broadcast(route string, payload interface{}) {
	h.send(route, "", payload)
}

// BroadcastUser sends payload only to sessions owned by userID.
func (h *Hub) BroadcastUser(route, userID string, payload interface{}) {
	h.send(route, userID, payload)
}

// HasSubscribers reports whether any session is connected on route.
func (h *Hub) HasSubscribers(route string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[route]) > 0
}

func (h *Hub) send(route, userID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("ws marshal", logger.String("route", route), logger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.routes[route] {
		if userID != "" && s.userID != userID {
			continue
		}
		select {
		case s.send <- data:
		default:
			// backpressure: drop for this session
		}
	}
}
