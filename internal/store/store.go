// Package store holds the signaling session and the captured frame slot.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mossy-p/fabcam/internal/models"
)

var (
	ErrInvalidRole = errors.New("invalid role")
	ErrNoFrame     = errors.New("no frame captured")
)

// SignalStore holds at most one active signaling session.
type SignalStore interface {
	// Snapshot returns the current session. Candidate lists are never nil.
	Snapshot(ctx context.Context) (*models.Session, error)
	// Reset empties the offer, the answer and both candidate lists.
	Reset(ctx context.Context) error
	// StartSession resets the store and records offer as the broadcaster's
	// offer, returning the identifier of the new session.
	StartSession(ctx context.Context, offer json.RawMessage) (string, error)
	// SetAnswer records the viewer's answer; the last write wins.
	SetAnswer(ctx context.Context, answer json.RawMessage) error
	// AppendCandidate appends to the candidate list of role.
	AppendCandidate(ctx context.Context, role models.Role, candidate json.RawMessage) error
}

// FrameStore is a single-slot holder for the latest captured frame.
type FrameStore interface {
	Capture(ctx context.Context, data string) (models.Frame, error)
	Latest(ctx context.Context) (models.Frame, error)
}
