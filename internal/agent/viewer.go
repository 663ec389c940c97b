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

// ViewerState is the lifecycle of a Viewer.
type ViewerState string

const (
	ViewerDisconnected ViewerState = "disconnected"
	ViewerConnecting   ViewerState = "connecting"
	ViewerLive         ViewerState = "live"
)

// Viewer answers the broadcaster's offer and renders the received video into
// a sink from which frames can be captured for scoring.
type Viewer struct {
	signaler Signaler
	sink     media.Sink
	newPeer  PeerFactory
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	state    ViewerState
	peer     Peer
	poll     *poller
	out      *outbox
	cancel   context.CancelFunc
	cursor   candidateCursor
	answer   json.RawMessage // answer waiting to be posted
	onChange func(ViewerState)
}

func NewViewer(signaler Signaler, sink media.Sink, newPeer PeerFactory, interval time.Duration) *Viewer {
	return &Viewer{
		signaler: signaler,
		sink:     sink,
		newPeer:  newPeer,
		interval: interval,
		logger:   logging.For("agent.viewer"),
		state:    ViewerDisconnected,
	}
}

// OnStateChange registers f to observe state transitions. f runs with the
// viewer locked and must not call back into it.
func (v *Viewer) OnStateChange(f func(ViewerState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = f
}

func (v *Viewer) State() ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Viewer) setState(s ViewerState) {
	if v.state == s {
		return
	}
	v.logger.Debug().Str("from", string(v.state)).Str("to", string(s)).Msg("state")
	v.state = s
	if v.onChange != nil {
		v.onChange(s)
	}
}

// Connect drops any previous session and starts polling for an offer.
func (v *Viewer) Connect() error {
	v.teardown(nil)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.setState(ViewerConnecting)
	pc, err := v.newPeer()
	if err != nil {
		v.setState(ViewerDisconnected)
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		v.setState(ViewerDisconnected)
		return fmt.Errorf("add video transceiver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := newOutbox(ctx, v.signaler.Send, v.logger)
	out.open()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		v.logger.Info().Str("codec", track.Codec().MimeType).Msg("remote video track")
		v.sink.Attach(track)
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			v.logger.Warn().Err(err).Msg("encode local candidate")
			return
		}
		out.enqueue(models.SignalMessage{
			Type:      models.SignalTypeCandidate,
			Role:      models.RoleViewer,
			Candidate: raw,
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		v.onConnectionState(pc, s)
	})

	v.peer = pc
	v.out = out
	v.cancel = cancel
	v.poll = startPoller(ctx, v.interval, func(ctx context.Context) { v.tick(ctx, pc) })
	v.logger.Info().Msg("waiting for broadcaster offer")
	return nil
}

func (v *Viewer) onConnectionState(pc Peer, s webrtc.PeerConnectionState) {
	v.logger.Info().Str("connection", s.String()).Msg("connection state changed")

	switch s {
	case webrtc.PeerConnectionStateConnected:
		v.mu.Lock()
		if v.peer == pc {
			v.setState(ViewerLive)
		}
		v.mu.Unlock()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		v.teardown(pc)
	}
}

// tick answers a pending offer once, then applies new broadcaster candidates.
func (v *Viewer) tick(ctx context.Context, pc Peer) {
	poll, err := v.signaler.Poll(ctx, models.RoleViewer)
	if err != nil {
		v.logger.Debug().Err(err).Msg("poll failed")
		return
	}

	answer, ok := v.apply(pc, poll)
	if !ok || answer == nil {
		return
	}

	err = v.signaler.Send(ctx, models.SignalMessage{
		Type: models.SignalTypeAnswer,
		Role: models.RoleViewer,
		SDP:  answer,
	})
	if err != nil {
		v.logger.Warn().Err(err).Msg("failed to post answer, retrying on next poll")
		return
	}

	v.mu.Lock()
	if v.peer == pc {
		v.answer = nil
	}
	v.mu.Unlock()
	v.logger.Info().Msg("answer posted")
}

// apply updates pc from poll and returns an answer still to be posted. ok is
// false when pc is no longer the current peer connection.
func (v *Viewer) apply(pc Peer, poll *Poll) (answer json.RawMessage, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.peer != pc {
		return nil, false
	}

	if present(poll.Offer) && pc.RemoteDescription() == nil {
		raw, err := v.answerOffer(pc, poll.Offer)
		if err != nil {
			v.logger.Warn().Err(err).Msg("answer offer")
		} else {
			v.answer = raw
		}
	}

	if pc.RemoteDescription() != nil {
		applyCandidates(pc, v.cursor.next(poll.Candidates), v.logger)
	}
	return v.answer, true
}

func (v *Viewer) answerOffer(pc Peer, rawOffer json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(rawOffer, &offer); err != nil {
		return nil, fmt.Errorf("malformed offer: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(pc.LocalDescription())
}

// Disconnect ends the session. It is safe to call repeatedly.
func (v *Viewer) Disconnect() {
	v.teardown(nil)
}

func (v *Viewer) teardown(pc Peer) {
	v.mu.Lock()
	if pc != nil && v.peer != pc {
		v.mu.Unlock()
		return
	}
	peer, poll, out, cancel := v.peer, v.poll, v.out, v.cancel
	v.peer, v.poll, v.out, v.cancel = nil, nil, nil, nil
	v.answer = nil
	v.cursor.reset()
	v.sink.Clear()
	v.setState(ViewerDisconnected)
	v.mu.Unlock()

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
			v.logger.Debug().Err(err).Msg("close peer connection")
		}
	}
}

// CaptureFrame uploads the current picture for scoring. It returns nil
// without error when the viewer is not live or no picture has arrived yet.
func (v *Viewer) CaptureFrame(ctx context.Context) (*models.Analysis, error) {
	if v.State() != ViewerLive {
		return nil, nil
	}

	img, err := v.sink.Snapshot()
	if errors.Is(err, media.ErrNoFrame) {
		v.logger.Info().Msg("no frame to capture yet")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	frame, err := media.EncodeJPEG(img, media.SnapshotQuality)
	if err != nil {
		return nil, err
	}

	analysis, err := v.signaler.Capture(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("upload frame: %w", err)
	}
	return analysis, nil
}
