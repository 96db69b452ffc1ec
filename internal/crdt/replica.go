package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Replica is the in-memory CRDT state for one document. The codec is
// opaque to the rest of the server: updates come in as serialized change
// sets and the full state goes out as one blob. Applying the same set of
// updates in any order, any number of times, converges to the same state.
//
// A Replica is not safe for concurrent use; the owning room serializes
// all access to it.
type Replica struct {
	doc *automerge.Doc
}

// NewReplica returns an empty replica. An empty replica is still a valid,
// encodable state.
func NewReplica() *Replica {
	return &Replica{doc: automerge.New()}
}

// Hydrate builds a replica from a persisted snapshot blob. An empty or nil
// snapshot yields a fresh empty replica.
func Hydrate(snapshot []byte) (*Replica, error) {
	if len(snapshot) == 0 {
		return NewReplica(), nil
	}

	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return &Replica{doc: doc}, nil
}

// ApplyUpdate merges a serialized update fragment into the replica.
// Fragments that fail to decode or apply leave the replica untouched.
func (r *Replica) ApplyUpdate(update []byte) error {
	incoming, err := automerge.Load(update)
	if err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}

	changes, err := incoming.Changes()
	if err != nil {
		return fmt.Errorf("failed to read update changes: %w", err)
	}

	if err := r.doc.Apply(changes...); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}

	return nil
}

// EncodeState returns the full serialized state of the replica, suitable
// for persistence and for hydrating a fresh replica.
func (r *Replica) EncodeState() []byte {
	return r.doc.Save()
}
