package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

type fakeVerifier struct {
	// token -> user id
	users map[string]string
}

func (f *fakeVerifier) VerifyToken(token string) (string, error) {
	if userID, ok := f.users[token]; ok {
		return userID, nil
	}
	return "", fmt.Errorf("unknown token")
}

type fakeDirectory struct {
	docs   map[string]bool            // document id -> exists
	access map[string]map[string]bool // document id -> user id -> allowed
	err    error
}

func (f *fakeDirectory) Exists(ctx context.Context, documentID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.docs[documentID], nil
}

func (f *fakeDirectory) HasAccess(ctx context.Context, documentID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.access[documentID][userID], nil
}

func newTestGate() *Gate {
	return NewGate(
		&fakeVerifier{users: map[string]string{
			"owner-token":    "user-owner",
			"collab-token":   "user-collab",
			"stranger-token": "user-stranger",
		}},
		&fakeDirectory{
			docs: map[string]bool{"doc-1": true},
			access: map[string]map[string]bool{
				"doc-1": {"user-owner": true, "user-collab": true},
			},
		},
	)
}

func TestAdmitOwnerAndCollaborator(t *testing.T) {
	gate := newTestGate()

	userID, err := gate.Admit(context.Background(), "doc-1", "owner-token")
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "user-owner")

	userID, err = gate.Admit(context.Background(), "doc-1", "collab-token")
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "user-collab")
}

func TestAdmitInvalidCredential(t *testing.T) {
	gate := newTestGate()

	_, err := gate.Admit(context.Background(), "doc-1", "bogus-token")
	assert.Equal(t, errors.Is(err, ErrInvalidCredential), true)
	assert.Equal(t, IsDenial(err), true)
}

func TestAdmitDeletedDocument(t *testing.T) {
	gate := newTestGate()

	_, err := gate.Admit(context.Background(), "doc-gone", "owner-token")
	assert.Equal(t, errors.Is(err, ErrDocumentGone), true)
	assert.Equal(t, IsDenial(err), true)
}

func TestAdmitNotAuthorized(t *testing.T) {
	gate := newTestGate()

	// Valid credential, document exists, but the user is neither owner
	// nor collaborator.
	_, err := gate.Admit(context.Background(), "doc-1", "stranger-token")
	assert.Equal(t, errors.Is(err, ErrNotAuthorized), true)
	assert.Equal(t, IsDenial(err), true)
}

func TestAdmitStoreFailureIsNotADenial(t *testing.T) {
	gate := NewGate(
		&fakeVerifier{users: map[string]string{"owner-token": "user-owner"}},
		&fakeDirectory{err: fmt.Errorf("connection refused")},
	)

	_, err := gate.Admit(context.Background(), "doc-1", "owner-token")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, IsDenial(err), false)
}
