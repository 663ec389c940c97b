package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/fabcam/internal/logging"
	"github.com/mossy-p/fabcam/internal/media"
	"github.com/mossy-p/fabcam/internal/models"
)

var (
	ErrAlreadyStarted = errors.New("agent already started")
	ErrStopped        = errors.New("agent stopped")
)

// BroadcasterState is the lifecycle of a Broadcaster.
type BroadcasterState string

const (
	BroadcasterIdle      BroadcasterState = "idle"
	BroadcasterCapturing BroadcasterState = "capturing"
	BroadcasterOffering  BroadcasterState = "offering"
	BroadcasterWaiting   BroadcasterState = "waiting"
	BroadcasterConnected BroadcasterState = "connected"
)

// Broadcaster publishes a camera to a single viewer. It posts an offer, then
// polls for the viewer's answer and candidates.
type Broadcaster struct {
	signaler Signaler
	camera   media.Camera
	newPeer  PeerFactory
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	state    BroadcasterState
	peer     Peer
	source   media.Source
	poll     *poller
	out      *outbox
	cancel   context.CancelFunc
	cursor   candidateCursor
	onChange func(BroadcasterState)
}

func NewBroadcaster(signaler Signaler, camera media.Camera, newPeer PeerFactory, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		signaler: signaler,
		camera:   camera,
		newPeer:  newPeer,
		interval: interval,
		logger:   logging.For("agent.broadcaster"),
		state:    BroadcasterIdle,
	}
}

// OnStateChange registers f to observe state transitions. f runs with the
// broadcaster locked and must not call back into it.
func (b *Broadcaster) OnStateChange(f func(BroadcasterState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = f
}

func (b *Broadcaster) State() BroadcasterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broadcaster) setState(s BroadcasterState) {
	if b.state == s {
		return
	}
	b.logger.Debug().Str("from", string(b.state)).Str("to", string(s)).Msg("state")
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

// Start opens the camera, posts an offer and begins polling for the answer.
// ctx bounds the startup only; the session runs until Stop or until the
// connection fails.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != BroadcasterIdle {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.setState(BroadcasterCapturing)
	b.mu.Unlock()

	src, err := b.camera.Open(ctx)
	if err != nil {
		b.mu.Lock()
		if b.state == BroadcasterCapturing {
			b.setState(BroadcasterIdle)
		}
		b.mu.Unlock()
		return fmt.Errorf("open camera: %w", err)
	}

	pc, err := b.prepare(src)
	if errors.Is(err, ErrStopped) {
		return err
	}
	if err != nil {
		b.teardown(nil)
		return err
	}

	offer, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		b.teardown(pc)
		return fmt.Errorf("encode offer: %w", err)
	}
	if err := b.signaler.Send(ctx, models.SignalMessage{
		Type: models.SignalTypeOffer,
		Role: models.RoleBroadcaster,
		SDP:  offer,
	}); err != nil {
		b.teardown(pc)
		return fmt.Errorf("publish offer: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer != pc {
		return ErrStopped
	}
	b.setState(BroadcasterWaiting)
	// candidates gathered so far belong to the session the offer just started
	b.out.open()
	b.poll = startPoller(context.Background(), b.interval, func(ctx context.Context) { b.tick(ctx, pc) })
	b.logger.Info().Msg("offer published, waiting for viewer")
	return nil
}

// prepare builds the peer connection for src and sets the local offer.
func (b *Broadcaster) prepare(src media.Source) (Peer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BroadcasterCapturing {
		src.Close()
		return nil, ErrStopped
	}
	b.source = src
	b.setState(BroadcasterOffering)

	pc, err := b.newPeer()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	b.peer = pc

	for _, track := range src.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return nil, fmt.Errorf("add track: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	out := newOutbox(ctx, b.signaler.Send, b.logger)
	b.out = out

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			b.logger.Warn().Err(err).Msg("encode local candidate")
			return
		}
		out.enqueue(models.SignalMessage{
			Type:      models.SignalTypeCandidate,
			Role:      models.RoleBroadcaster,
			Candidate: raw,
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		b.onConnectionState(pc, s)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return pc, nil
}

func (b *Broadcaster) onConnectionState(pc Peer, s webrtc.PeerConnectionState) {
	b.logger.Info().Str("connection", s.String()).Msg("connection state changed")

	switch s {
	case webrtc.PeerConnectionStateConnected:
		b.mu.Lock()
		if b.peer == pc {
			b.setState(BroadcasterConnected)
		}
		b.mu.Unlock()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		b.teardown(pc)
	}
}

// tick applies the viewer's answer and any new viewer candidates.
func (b *Broadcaster) tick(ctx context.Context, pc Peer) {
	poll, err := b.signaler.Poll(ctx, models.RoleBroadcaster)
	if err != nil {
		b.logger.Debug().Err(err).Msg("poll failed")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer != pc {
		return
	}

	if present(poll.Answer) && pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(poll.Answer, &answer); err != nil {
			b.logger.Warn().Err(err).Msg("malformed answer")
		} else if err := pc.SetRemoteDescription(answer); err != nil {
			b.logger.Warn().Err(err).Msg("set remote description")
		} else {
			b.logger.Info().Msg("answer applied")
		}
	}

	// viewer candidates can be posted before its answer
	if pc.RemoteDescription() != nil {
		applyCandidates(pc, b.cursor.next(poll.Candidates), b.logger)
	}
}

// Stop ends the broadcast from any state. It is safe to call repeatedly.
func (b *Broadcaster) Stop() {
	b.teardown(nil)
}

// teardown releases the session. With a non-nil pc it only acts if pc is
// still the current peer connection.
func (b *Broadcaster) teardown(pc Peer) {
	b.mu.Lock()
	if pc != nil && b.peer != pc {
		b.mu.Unlock()
		return
	}
	peer, src, poll, out, cancel := b.peer, b.source, b.poll, b.out, b.cancel
	b.peer, b.source, b.poll, b.out, b.cancel = nil, nil, nil, nil, nil
	b.cursor.reset()
	b.setState(BroadcasterIdle)
	b.mu.Unlock()

	if poll != nil {
		poll.stop()
	}
	if cancel != nil {
		cancel()
	}
	if out != nil {
		out.wait()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("close peer connection")
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("close camera")
		}
	}
}

// applyCandidates adds remote candidates in order. A candidate that fails is
// logged and skipped.
func applyCandidates(pc Peer, candidates []json.RawMessage, logger zerolog.Logger) {
	for _, raw := range candidates {
		if !present(raw) {
			continue
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			logger.Warn().Err(err).Msg("malformed remote candidate")
			continue
		}
		if err := pc.AddICECandidate(init); err != nil {
			logger.Warn().Err(err).Msg("add remote candidate")
		}
	}
}
