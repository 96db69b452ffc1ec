package collab

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"doc-collab/internal/crdt"
)

// ErrRoomEvicted is returned when an operation races with room eviction.
// Callers go back through the registry, which re-hydrates a fresh room.
var ErrRoomEvicted = errors.New("room has been evicted")

const saveTimeout = 10 * time.Second

// Room owns exactly one replica and the set of sessions attached to it.
// Every mutation of the replica or the session set happens under mu, so
// joins, update fragments, saves and disconnects for one document form a
// single totally ordered sequence. Different rooms share nothing and run
// fully concurrently.
//
// Lifecycle: a room is created by the registry with at least one joiner on
// the way. When the last session detaches it starts a cancellable drain
// timer; a join before the timer fires keeps the room warm, otherwise the
// room writes one final snapshot and is evicted.
type Room struct {
	DocumentID string

	mu       sync.Mutex
	replica  *crdt.Replica
	sessions map[*Session]bool

	// Drain state. drainEpoch invalidates in-flight timers: every attach
	// and every re-arm bumps it, and an expired timer carrying a stale
	// epoch does nothing.
	drainTimer *time.Timer
	drainEpoch uint64
	evicted    bool

	store   SnapshotStore
	grace   time.Duration
	onEvict func(*Room)
}

func newRoom(documentID string, replica *crdt.Replica, store SnapshotStore, grace time.Duration, onEvict func(*Room)) *Room {
	return &Room{
		DocumentID: documentID,
		replica:    replica,
		sessions:   make(map[*Session]bool),
		store:      store,
		grace:      grace,
		onEvict:    onEvict,
	}
}

// Attach adds a session to the room, cancels any pending drain timer and
// queues the full current document state to the joining session only.
// Queueing under the lock guarantees the state frame precedes every
// later broadcast.
func (rm *Room) Attach(session *Session) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.evicted {
		return ErrRoomEvicted
	}

	rm.cancelDrainLocked()
	rm.sessions[session] = true

	state := &Message{Type: MessageDocumentState, Payload: rm.replica.EncodeState()}
	session.Send <- state.Encode()

	log.Printf("Session %s joined document %s (total: %d users)",
		session.ID, rm.DocumentID, len(rm.sessions))
	return nil
}

// Detach removes a session. When the last session leaves, the drain timer
// starts; the final snapshot is written only if nobody rejoins in time.
func (rm *Room) Detach(session *Session) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.sessions[session]; !ok {
		return
	}

	delete(rm.sessions, session)
	close(session.Send)

	log.Printf("Session %s left document %s (remaining: %d users)",
		session.ID, rm.DocumentID, len(rm.sessions))

	if len(rm.sessions) == 0 && !rm.evicted {
		rm.scheduleDrainLocked()
	}
}

// ApplyUpdate applies a sync fragment to the replica and, on success,
// relays the same bytes verbatim to every other attached session. A
// fragment that fails to decode or apply is dropped without touching the
// replica or the room.
func (rm *Room) ApplyUpdate(sender *Session, update []byte) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.evicted {
		return ErrRoomEvicted
	}

	if err := rm.replica.ApplyUpdate(update); err != nil {
		return err
	}

	msg := &Message{Type: MessageSyncUpdate, Payload: update}
	rm.broadcastLocked(sender, msg.Encode())
	return nil
}

// RelayAwareness forwards ephemeral presence data to every other attached
// session. Awareness bytes are never applied to the replica, never
// persisted and never retained.
func (rm *Room) RelayAwareness(sender *Session, payload []byte) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.evicted {
		return ErrRoomEvicted
	}

	msg := &Message{Type: MessageAwarenessUpdate, Payload: payload}
	rm.broadcastLocked(sender, msg.Encode())
	return nil
}

// SaveNow writes the current full state to the durable store. The state is
// encoded under the room lock; the store write happens outside it, so a
// slow write never stalls editing. Failures are logged and superseded by
// the next save.
func (rm *Room) SaveNow(ctx context.Context) error {
	rm.mu.Lock()
	if rm.evicted {
		rm.mu.Unlock()
		return ErrRoomEvicted
	}
	snapshot := rm.replica.EncodeState()
	rm.mu.Unlock()

	if err := rm.store.SaveSnapshot(ctx, rm.DocumentID, snapshot); err != nil {
		log.Printf("⚠️  Failed to save document %s: %v", rm.DocumentID, err)
		return err
	}
	return nil
}

// SessionCount returns the number of attached sessions.
func (rm *Room) SessionCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.sessions)
}

// Evicted reports whether the room has been removed from service.
func (rm *Room) Evicted() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.evicted
}

// broadcastLocked queues msg to every session except the sender. Called
// under mu, which fixes the delivery order every recipient observes. A
// session whose buffer is full is dropped; it can reconnect and re-sync
// from the full state.
func (rm *Room) broadcastLocked(sender *Session, msg []byte) {
	for session := range rm.sessions {
		if session == sender {
			continue
		}

		select {
		case session.Send <- msg:
		default:
			log.Printf("⚠️  Session %s buffer full, dropping connection", session.ID)
			delete(rm.sessions, session)
			close(session.Send)
		}
	}

	if len(rm.sessions) == 0 && !rm.evicted {
		rm.scheduleDrainLocked()
	}
}

func (rm *Room) cancelDrainLocked() {
	rm.drainEpoch++
	if rm.drainTimer != nil {
		rm.drainTimer.Stop()
		rm.drainTimer = nil
	}
}

func (rm *Room) scheduleDrainLocked() {
	rm.drainEpoch++
	epoch := rm.drainEpoch
	rm.drainTimer = time.AfterFunc(rm.grace, func() {
		rm.drainExpired(epoch)
	})
}

// drainExpired runs when the grace period elapses. The epoch check makes
// firing and cancellation race-free: any attach since the timer was armed
// bumped the epoch, and a stale timer gives up immediately.
func (rm *Room) drainExpired(epoch uint64) {
	rm.mu.Lock()
	if rm.evicted || rm.drainEpoch != epoch || len(rm.sessions) > 0 {
		rm.mu.Unlock()
		return
	}
	snapshot := rm.replica.EncodeState()
	rm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := rm.store.SaveSnapshot(ctx, rm.DocumentID, snapshot); err != nil {
		// Eviction only happens after a successful write: re-hydration
		// reads this snapshot back, so dropping the room now would lose
		// edits. Keep it warm and try again after another grace period.
		log.Printf("⚠️  Final save failed for document %s: %v (keeping room warm)", rm.DocumentID, err)
		rm.mu.Lock()
		if !rm.evicted && rm.drainEpoch == epoch && len(rm.sessions) == 0 {
			rm.scheduleDrainLocked()
		}
		rm.mu.Unlock()
		return
	}

	rm.mu.Lock()
	if rm.evicted || rm.drainEpoch != epoch || len(rm.sessions) > 0 {
		// Someone joined while the snapshot was being written. The write
		// is harmless: the room stays live and the next save supersedes it.
		rm.mu.Unlock()
		return
	}
	rm.evicted = true
	rm.mu.Unlock()

	rm.onEvict(rm)
	log.Printf("Room %s evicted after grace period", rm.DocumentID)
}

// shutdown persists the room state and closes every attached session.
// Used by the registry during server shutdown.
func (rm *Room) shutdown(ctx context.Context) {
	rm.mu.Lock()
	if rm.evicted {
		rm.mu.Unlock()
		return
	}
	rm.evicted = true
	rm.cancelDrainLocked()
	snapshot := rm.replica.EncodeState()
	sessions := make([]*Session, 0, len(rm.sessions))
	for session := range rm.sessions {
		sessions = append(sessions, session)
	}
	rm.sessions = make(map[*Session]bool)
	rm.mu.Unlock()

	if err := rm.store.SaveSnapshot(ctx, rm.DocumentID, snapshot); err != nil {
		log.Printf("⚠️  Failed to save document %s during shutdown: %v", rm.DocumentID, err)
	}

	for _, session := range sessions {
		close(session.Send)
		if session.Conn != nil {
			session.Conn.Close()
		}
	}
}
