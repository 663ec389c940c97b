package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/fabcam/internal/models"
)

// Memory is an in-process SignalStore and FrameStore. Each instance is
// independent; the zero value is not usable, use NewMemory.
type Memory struct {
	mu      sync.RWMutex
	session *models.Session

	frameMu sync.RWMutex
	frame   *models.Frame

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		session: models.NewSession(),
		now:     time.Now,
	}
}

func (m *Memory) Snapshot(_ context.Context) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone(), nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = models.NewSession()
	return nil
}

func (m *Memory) StartSession(_ context.Context, offer json.RawMessage) (string, error) {
	s := models.NewSession()
	s.ID = uuid.NewString()
	s.BroadcasterOffer = append(json.RawMessage(nil), offer...)
	if offer == nil {
		s.BroadcasterOffer = nil
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	return s.ID, nil
}

func (m *Memory) SetAnswer(_ context.Context, answer json.RawMessage) error {
	var a json.RawMessage
	if answer != nil {
		a = append(json.RawMessage(nil), answer...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.ViewerAnswer = a
	return nil
}

func (m *Memory) AppendCandidate(_ context.Context, role models.Role, candidate json.RawMessage) error {
	c := append(json.RawMessage(nil), candidate...)
	if candidate == nil {
		c = json.RawMessage("null")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch role {
	case models.RoleBroadcaster:
		m.session.BroadcasterCandidates = append(m.session.BroadcasterCandidates, c)
	case models.RoleViewer:
		m.session.ViewerCandidates = append(m.session.ViewerCandidates, c)
	default:
		return ErrInvalidRole
	}
	return nil
}

func (m *Memory) Capture(_ context.Context, data string) (models.Frame, error) {
	f := models.Frame{Data: data, CapturedAt: m.now().UnixMilli()}
	m.frameMu.Lock()
	m.frame = &f
	m.frameMu.Unlock()
	return f, nil
}

func (m *Memory) Latest(_ context.Context) (models.Frame, error) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	if m.frame == nil {
		return models.Frame{}, ErrNoFrame
	}
	return *m.frame, nil
}
