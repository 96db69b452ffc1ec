package auth

import (
	"context"
	"errors"
	"fmt"

	"doc-collab/internal/middleware"

	"go.opentelemetry.io/otel/attribute"
)

// Denial reasons surfaced to the client as join-error payloads.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrDocumentGone      = errors.New("document not found")
	ErrNotAuthorized     = errors.New("not authorized")
)

// CredentialVerifier is what the gate needs from the token layer.
type CredentialVerifier interface {
	VerifyToken(token string) (string, error)
}

// DocumentDirectory is what the gate needs from the durable store.
type DocumentDirectory interface {
	Exists(ctx context.Context, documentID string) (bool, error)
	HasAccess(ctx context.Context, documentID, userID string) (bool, error)
}

// Gate folds credential verification, document existence and the
// owner/collaborator check into one admission decision. All three checks
// must pass before a session is created; nothing is mutated on denial.
type Gate struct {
	verifier CredentialVerifier
	docs     DocumentDirectory
}

// NewGate creates a new access gate
func NewGate(verifier CredentialVerifier, docs DocumentDirectory) *Gate {
	return &Gate{verifier: verifier, docs: docs}
}

// Admit returns the user id on success, or one of the sentinel denial
// errors. Any other error is an infrastructure failure, not a denial.
func (g *Gate) Admit(ctx context.Context, documentID, credential string) (string, error) {
	ctx, span := middleware.StartSpan(ctx, "Gate.Admit",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	userID, err := g.verifier.VerifyToken(credential)
	if err != nil {
		return "", ErrInvalidCredential
	}

	exists, err := g.docs.Exists(ctx, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return "", fmt.Errorf("failed to check document: %w", err)
	}
	if !exists {
		return "", ErrDocumentGone
	}

	allowed, err := g.docs.HasAccess(ctx, documentID, userID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return "", fmt.Errorf("failed to check access: %w", err)
	}
	if !allowed {
		return "", ErrNotAuthorized
	}

	return userID, nil
}

// IsDenial reports whether err is an admission denial rather than an
// infrastructure failure.
func IsDenial(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrDocumentGone) ||
		errors.Is(err, ErrNotAuthorized)
}
