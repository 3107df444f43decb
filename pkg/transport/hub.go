package transport

import (
	"sync"

	"github.com/rs/zerolog"
)

// Emitter delivers server events to connections and rooms. Rooms are keyed by lobby or match
// code. Delivery is fire and forget; failures are logged by the implementation.
type Emitter interface {
	Emit(connID, event string, payload any)
	EmitRoom(room, event string, payload any)
	EmitRoomExcept(room, exceptConnID, event string, payload any)
	Join(room, connID string)
	Leave(room, connID string)
}

// Sender writes an encoded frame to one connection.
type Sender interface {
	Send(connID string, frame []byte) error
}

// Hub tracks room membership and implements Emitter on top of a Sender.
type Hub struct {
	sender Sender
	log    zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}
}

var _ Emitter = (*Hub)(nil)

func NewHub(sender Sender, logger zerolog.Logger) *Hub {
	return &Hub{
		sender:   sender,
		log:      logger,
		rooms:    make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Join(room, connID string) {
	if room == "" || connID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
	if h.memberOf[connID] == nil {
		h.memberOf[connID] = make(map[string]struct{})
	}
	h.memberOf[connID][room] = struct{}{}
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, connID)
}

func (h *Hub) leaveLocked(room, connID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberOf[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.memberOf, connID)
		}
	}
}

// Drop removes connID from every room it joined.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.memberOf[connID] {
		h.leaveLocked(room, connID)
	}
}

// Members returns the connections currently in room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]string, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		members = append(members, connID)
	}
	return members
}

func (h *Hub) Emit(connID, event string, payload any) {
	if connID == "" {
		return
	}
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	h.send(connID, event, frame)
}

func (h *Hub) EmitRoom(room, event string, payload any) {
	h.EmitRoomExcept(room, "", event, payload)
}

func (h *Hub) EmitRoomExcept(room, exceptConnID, event string, payload any) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	for _, connID := range h.Members(room) {
		if connID == exceptConnID {
			continue
		}
		h.send(connID, event, frame)
	}
}

func (h *Hub) send(connID, event string, frame []byte) {
	if err := h.sender.Send(connID, frame); err != nil {
		h.log.Warn().Err(err).Str("conn", connID).Str("event", event).Msg("failed to deliver event")
	}
}
