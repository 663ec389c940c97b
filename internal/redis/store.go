// Package redis backs the signal store and frame slot with Redis so that
// several server instances can share one session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/fabcam/internal/models"
	"github.com/mossy-p/fabcam/internal/store"
	"github.com/redis/go-redis/v9"
)

// Store implements store.SignalStore and store.FrameStore on Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var (
	_ store.SignalStore = (*Store)(nil)
	_ store.FrameStore  = (*Store)(nil)
)

// NewStore returns a Store writing keys under prefix. Every write to the
// session pushes the expiry of all its keys to ttl from now, so the session
// expires as a whole; a ttl of zero keeps keys forever. The frame slot never
// expires.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) key(name string) string { return s.prefix + ":" + name }

func (s *Store) candidatesKey(role models.Role) string {
	return s.key("candidates:" + string(role))
}

func (s *Store) sessionKeys() []string {
	return []string{
		s.key("session"),
		s.key("offer"),
		s.key("answer"),
		s.candidatesKey(models.RoleBroadcaster),
		s.candidatesKey(models.RoleViewer),
	}
}

// touch queues an expiry refresh for every session key. Missing keys are
// left alone.
func (s *Store) touch(ctx context.Context, p redis.Pipeliner) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range s.sessionKeys() {
		p.Expire(ctx, key, s.ttl)
	}
}

func (s *Store) Snapshot(ctx context.Context) (*models.Session, error) {
	var (
		id, offer, answer *redis.StringCmd
		bc, vc            *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		id = p.Get(ctx, s.key("session"))
		offer = p.Get(ctx, s.key("offer"))
		answer = p.Get(ctx, s.key("answer"))
		bc = p.LRange(ctx, s.candidatesKey(models.RoleBroadcaster), 0, -1)
		vc = p.LRange(ctx, s.candidatesKey(models.RoleViewer), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read session: %w", err)
	}

	sess := models.NewSession()
	sess.ID = id.Val()
	if sess.BroadcasterOffer, err = optionalRaw(offer); err != nil {
		return nil, err
	}
	if sess.ViewerAnswer, err = optionalRaw(answer); err != nil {
		return nil, err
	}
	for _, c := range bc.Val() {
		sess.BroadcasterCandidates = append(sess.BroadcasterCandidates, json.RawMessage(c))
	}
	for _, c := range vc.Val() {
		sess.ViewerCandidates = append(sess.ViewerCandidates, json.RawMessage(c))
	}
	return sess, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.sessionKeys()...).Err(); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *Store) StartSession(ctx context.Context, offer json.RawMessage) (string, error) {
	id := uuid.NewString()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKeys()...)
		p.Set(ctx, s.key("session"), id, 0)
		if offer != nil {
			p.Set(ctx, s.key("offer"), []byte(offer), 0)
		}
		s.touch(ctx, p)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

func (s *Store) SetAnswer(ctx context.Context, answer json.RawMessage) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if answer == nil {
			p.Del(ctx, s.key("answer"))
		} else {
			p.Set(ctx, s.key("answer"), []byte(answer), 0)
		}
		s.touch(ctx, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set answer: %w", err)
	}
	return nil
}

func (s *Store) AppendCandidate(ctx context.Context, role models.Role, candidate json.RawMessage) error {
	if !role.Valid() {
		return store.ErrInvalidRole
	}
	if candidate == nil {
		candidate = json.RawMessage("null")
	}
	key := s.candidatesKey(role)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, []byte(candidate))
		s.touch(ctx, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s candidate: %w", role, err)
	}
	return nil
}

func (s *Store) Capture(ctx context.Context, data string) (models.Frame, error) {
	f := models.Frame{Data: data, CapturedAt: s.now().UnixMilli()}
	b, err := json.Marshal(f)
	if err != nil {
		return models.Frame{}, err
	}
	if err := s.client.Set(ctx, s.key("frame"), b, 0).Err(); err != nil {
		return models.Frame{}, fmt.Errorf("store frame: %w", err)
	}
	return f, nil
}

func (s *Store) Latest(ctx context.Context) (models.Frame, error) {
	b, err := s.client.Get(ctx, s.key("frame")).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Frame{}, store.ErrNoFrame
	}
	if err != nil {
		return models.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	var f models.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return models.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func optionalRaw(cmd *redis.StringCmd) (json.RawMessage, error) {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
