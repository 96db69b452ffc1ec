package collab

import "context"

// SnapshotStore is what the collaboration layer needs from the durable
// store: one opaque blob per document, read once per hydration, written
// once per save.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, documentID string) ([]byte, error)
	SaveSnapshot(ctx context.Context, documentID string, snapshot []byte) error
}

// Admitter decides whether a (document, credential) pair may attach.
// Returns the user id on success or a denial error.
type Admitter interface {
	Admit(ctx context.Context, documentID, credential string) (string, error)
}
