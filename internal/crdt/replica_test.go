package crdt

import (
	"fmt"
	"sort"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/go-playground/assert/v2"
)

// fragment returns a serialized update setting one key.
func fragment(t *testing.T, key, value string) []byte {
	t.Helper()
	doc := automerge.New()
	if err := doc.Path(key).Set(value); err != nil {
		t.Fatal(err)
	}
	return doc.Save()
}

// heads returns the sorted change heads of an encoded state. Two replicas
// holding the same set of changes report the same heads.
func heads(t *testing.T, state []byte) []string {
	t.Helper()
	doc, err := automerge.Load(state)
	if err != nil {
		t.Fatal(err)
	}
	var hs []string
	for _, h := range doc.Heads() {
		hs = append(hs, fmt.Sprintf("%x", h))
	}
	sort.Strings(hs)
	return hs
}

func TestEmptyReplicaIsEncodable(t *testing.T) {
	r := NewReplica()
	state := r.EncodeState()
	assert.NotEqual(t, len(state), 0)

	// An empty snapshot hydrates back to a valid empty replica.
	r2, err := Hydrate(nil)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, len(r2.EncodeState()), 0)
}

func TestHydrateRoundTrip(t *testing.T) {
	r := NewReplica()
	err := r.ApplyUpdate(fragment(t, "title", "hello"))
	assert.Equal(t, err, nil)

	r2, err := Hydrate(r.EncodeState())
	assert.Equal(t, err, nil)
	assert.Equal(t, heads(t, r.EncodeState()), heads(t, r2.EncodeState()))
}

func TestHydrateRejectsCorruptSnapshot(t *testing.T) {
	_, err := Hydrate([]byte("not a snapshot"))
	assert.NotEqual(t, err, nil)
}

func TestConvergenceAnyOrderAnyRepetition(t *testing.T) {
	fragA := fragment(t, "title", "hello")
	fragB := fragment(t, "body", "world")

	r1 := NewReplica()
	assert.Equal(t, r1.ApplyUpdate(fragA), nil)
	assert.Equal(t, r1.ApplyUpdate(fragB), nil)

	r2 := NewReplica()
	assert.Equal(t, r2.ApplyUpdate(fragB), nil)
	assert.Equal(t, r2.ApplyUpdate(fragA), nil)
	// Re-applying a fragment is a no-op.
	assert.Equal(t, r2.ApplyUpdate(fragA), nil)

	assert.Equal(t, heads(t, r1.EncodeState()), heads(t, r2.EncodeState()))
}

func TestMalformedUpdateLeavesReplicaIntact(t *testing.T) {
	r := NewReplica()
	assert.Equal(t, r.ApplyUpdate(fragment(t, "title", "hello")), nil)
	before := heads(t, r.EncodeState())

	err := r.ApplyUpdate([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.NotEqual(t, err, nil)

	assert.Equal(t, heads(t, r.EncodeState()), before)
}
