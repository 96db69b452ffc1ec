package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConcurrentJoinsShareOneReplica(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, time.Hour)

	const joiners = 32
	rooms := make([]*Room, joiners)

	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = reg.GetOrCreate(context.Background(), "doc-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < joiners; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("join %d got a different room", i)
		}
	}

	// One room means one hydration read.
	assert.Equal(t, store.loads("doc-1"), 1)

	live, _ := reg.Stats()
	assert.Equal(t, live, 1)
}

func TestDrainEvictsAfterGracePeriod(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, 50*time.Millisecond)

	room := reg.GetOrCreate(context.Background(), "doc-1")
	s := newTestSession("doc-1", "user-1")
	assert.Equal(t, room.Attach(s), nil)
	recvMessage(t, s)

	frag := fragment(t, "title", "hello")
	assert.Equal(t, room.ApplyUpdate(s, frag), nil)

	room.Detach(s)

	waitFor(t, 2*time.Second, func() bool {
		live, _ := reg.Stats()
		return live == 0
	})

	// Exactly one final write, carrying the last edits.
	assert.Equal(t, store.saves("doc-1"), 1)
	assert.Equal(t, room.Evicted(), true)

	store.mu.Lock()
	saved := store.snapshots["doc-1"]
	store.mu.Unlock()
	assert.Equal(t, stateHeads(t, saved), stateHeads(t, frag))
}

func TestRejoinBeforeGraceCancelsDrain(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, 100*time.Millisecond)

	room := reg.GetOrCreate(context.Background(), "doc-1")
	s1 := newTestSession("doc-1", "user-1")
	assert.Equal(t, room.Attach(s1), nil)
	room.Detach(s1)

	// Rejoin well inside the grace period.
	time.Sleep(20 * time.Millisecond)
	s2 := newTestSession("doc-1", "user-1")
	assert.Equal(t, reg.GetOrCreate(context.Background(), "doc-1").Attach(s2), nil)

	time.Sleep(300 * time.Millisecond)

	// The room stayed warm: no write, no eviction, same room.
	assert.Equal(t, store.saves("doc-1"), 0)
	assert.Equal(t, room.Evicted(), false)
	assert.Equal(t, reg.GetOrCreate(context.Background(), "doc-1") == room, true)

	live, sessions := reg.Stats()
	assert.Equal(t, live, 1)
	assert.Equal(t, sessions, 1)
}

func TestEvictedDocumentRehydratesFromSnapshot(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, 30*time.Millisecond)

	room := reg.GetOrCreate(context.Background(), "doc-1")
	s := newTestSession("doc-1", "user-1")
	assert.Equal(t, room.Attach(s), nil)
	recvMessage(t, s)

	frag := fragment(t, "title", "hello")
	assert.Equal(t, room.ApplyUpdate(s, frag), nil)
	room.Detach(s)

	waitFor(t, 2*time.Second, func() bool {
		live, _ := reg.Stats()
		return live == 0
	})

	// A fresh join creates a new room hydrated from the final snapshot.
	room2 := reg.GetOrCreate(context.Background(), "doc-1")
	assert.Equal(t, room2 != room, true)

	s2 := newTestSession("doc-1", "user-2")
	assert.Equal(t, room2.Attach(s2), nil)
	msg := recvMessage(t, s2)
	assert.Equal(t, msg.Type, MessageDocumentState)
	assert.Equal(t, stateHeads(t, msg.Payload), stateHeads(t, frag))
}

func TestFinalSaveFailureKeepsRoomWarm(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, 30*time.Millisecond)

	room := reg.GetOrCreate(context.Background(), "doc-1")
	s := newTestSession("doc-1", "user-1")
	assert.Equal(t, room.Attach(s), nil)
	recvMessage(t, s)
	assert.Equal(t, room.ApplyUpdate(s, fragment(t, "title", "hello")), nil)

	store.mu.Lock()
	store.failSave = true
	store.mu.Unlock()

	room.Detach(s)
	time.Sleep(150 * time.Millisecond)

	// No successful write yet, so the room must not be evicted.
	assert.Equal(t, room.Evicted(), false)
	live, _ := reg.Stats()
	assert.Equal(t, live, 1)

	// Once the store recovers, the re-armed timer finishes the job.
	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool {
		live, _ := reg.Stats()
		return live == 0
	})
	assert.Equal(t, store.saves("doc-1"), 1)
}

func TestShutdownPersistsLiveRooms(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(store, time.Hour)

	room := reg.GetOrCreate(context.Background(), "doc-1")
	s := newTestSession("doc-1", "user-1")
	assert.Equal(t, room.Attach(s), nil)
	recvMessage(t, s)
	frag := fragment(t, "title", "hello")
	assert.Equal(t, room.ApplyUpdate(s, frag), nil)

	reg.Shutdown(context.Background())

	assert.Equal(t, store.saves("doc-1"), 1)
	store.mu.Lock()
	saved := store.snapshots["doc-1"]
	store.mu.Unlock()
	assert.Equal(t, stateHeads(t, saved), stateHeads(t, frag))

	// The session's outbound channel is closed on shutdown.
	_, ok := <-s.Send
	assert.Equal(t, ok, false)

	live, _ := reg.Stats()
	assert.Equal(t, live, 0)
}
