// Package transporttest provides an in-memory transport.Emitter for tests.
package transporttest

import (
	"sync"

	"github.com/argus-labs/arena/pkg/transport"
)

// Record is one Emit, EmitRoom or EmitRoomExcept call. Room is empty for direct emits.
type Record struct {
	ConnID  string
	Room    string
	Except  string
	Event   string
	Payload any
}

// Recorder records every emitted event and the connections it reached.
type Recorder struct {
	mu        sync.Mutex
	records   []Record
	delivered map[string][]Record
	rooms     map[string]map[string]bool
}

var _ transport.Emitter = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		delivered: make(map[string][]Record),
		rooms:     make(map[string]map[string]bool),
	}
}

func (r *Recorder) Emit(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := Record{ConnID: connID, Event: event, Payload: payload}
	r.records = append(r.records, rec)
	if connID != "" {
		r.delivered[connID] = append(r.delivered[connID], rec)
	}
}

func (r *Recorder) EmitRoom(room, event string, payload any) {
	r.EmitRoomExcept(room, "", event, payload)
}

func (r *Recorder) EmitRoomExcept(room, exceptConnID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := Record{Room: room, Except: exceptConnID, Event: event, Payload: payload}
	r.records = append(r.records, rec)
	for connID := range r.rooms[room] {
		if connID != exceptConnID {
			r.delivered[connID] = append(r.delivered[connID], rec)
		}
	}
}

func (r *Recorder) Join(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]bool)
	}
	r.rooms[room][connID] = true
}

func (r *Recorder) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[room], connID)
}

// InRoom reports whether connID is currently a member of room.
func (r *Recorder) InRoom(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[room][connID]
}

// Events returns every emit of event in call order.
func (r *Recorder) Events(event string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}

// Delivered returns the events of the given name that reached connID.
func (r *Recorder) Delivered(connID, event string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.delivered[connID] {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns how many times event was emitted.
func (r *Recorder) Count(event string) int {
	return len(r.Events(event))
}
