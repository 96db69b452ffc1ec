package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"doc-collab/internal/crdt"
	"doc-collab/internal/middleware"

	"go.opentelemetry.io/otel/attribute"
)

// Registry is the process-wide map from document id to live room. It is
// the only structure shared across all connections; each room it hands
// out owns its replica and session set exclusively. Creation is lazy and
// race-free: concurrent joins for the same document always converge on
// the same room, so at most one replica per document exists at any
// instant.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store SnapshotStore
	grace time.Duration
}

// NewRegistry creates an empty registry. The grace duration controls how
// long a drained room stays warm before its final save and eviction.
func NewRegistry(store SnapshotStore, grace time.Duration) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		store: store,
		grace: grace,
	}
}

// GetOrCreate returns the live room for a document, hydrating a new one
// from the durable store if none exists. Hydration happens under the
// registry write lock, which is what makes the one-replica-per-document
// invariant structural rather than best-effort.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) *Room {
	// Fast path: room already live.
	r.mu.RLock()
	room, ok := r.rooms[documentID]
	r.mu.RUnlock()
	if ok && !room.Evicted() {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if room, ok := r.rooms[documentID]; ok {
		if !room.Evicted() {
			return room
		}
		delete(r.rooms, documentID)
	}

	room = newRoom(documentID, r.hydrate(ctx, documentID), r.store, r.grace, r.remove)
	r.rooms[documentID] = room

	log.Printf("Room %s created (%d rooms live)", documentID, len(r.rooms))
	return room
}

// hydrate loads the last persisted snapshot into a fresh replica. A
// missing, empty or unreadable snapshot falls back to an empty replica:
// admission is never blocked on a bad blob, and the fallback is logged
// rather than silent.
func (r *Registry) hydrate(ctx context.Context, documentID string) *crdt.Replica {
	ctx, span := middleware.StartSpan(ctx, "Registry.Hydrate",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	snapshot, err := r.store.LoadSnapshot(ctx, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Failed to load snapshot for document %s: %v (starting empty)", documentID, err)
		return crdt.NewReplica()
	}

	replica, err := crdt.Hydrate(snapshot)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Corrupt snapshot for document %s: %v (starting empty)", documentID, err)
		return crdt.NewReplica()
	}

	return replica
}

// remove drops an evicted room from the map. The room marks itself
// evicted first, so a concurrent GetOrCreate either sees the entry gone
// or replaces the evicted one.
func (r *Registry) remove(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.rooms[room.DocumentID]; ok && current == room {
		delete(r.rooms, room.DocumentID)
	}
}

// Stats returns the number of live rooms and attached sessions.
func (r *Registry) Stats() (rooms, sessions int) {
	r.mu.RLock()
	live := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		live = append(live, room)
	}
	r.mu.RUnlock()

	for _, room := range live {
		sessions += room.SessionCount()
	}
	return len(live), sessions
}

// Shutdown persists every live room and closes all connections.
func (r *Registry) Shutdown(ctx context.Context) {
	log.Println("🛑 Shutting down room registry...")

	r.mu.Lock()
	live := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		live = append(live, room)
	}
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()

	for _, room := range live {
		room.shutdown(ctx)
	}

	log.Printf("✓ Room registry shutdown complete (%d rooms persisted)", len(live))
}
