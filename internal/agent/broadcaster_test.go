package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/fabcam/internal/models"
)

func candidate(s string) json.RawMessage {
	raw, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: s})
	return raw
}

func startBroadcaster(t *testing.T) (*Broadcaster, *peerRecorder, *fakeSource, *Client) {
	t.Helper()
	_, client := newServer(t)
	peers := &peerRecorder{}
	src := &fakeSource{}
	b := NewBroadcaster(client, &fakeCamera{src: src}, peers.factory, testInterval)
	t.Cleanup(b.Stop)

	require.NoError(t, b.Start(context.Background()))
	return b, peers, src, client
}

func TestBroadcaster_StartPublishesOffer(t *testing.T) {
	mem, client := newServer(t)
	peers := &peerRecorder{}
	src := &fakeSource{}
	b := NewBroadcaster(client, &fakeCamera{src: src}, peers.factory, testInterval)
	defer b.Stop()

	var mu sync.Mutex
	var seen []BroadcasterState
	b.OnStateChange(func(s BroadcasterState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, BroadcasterWaiting, b.State())

	mu.Lock()
	assert.Equal(t, []BroadcasterState{BroadcasterCapturing, BroadcasterOffering, BroadcasterWaiting}, seen)
	mu.Unlock()

	sess, err := mem.Snapshot(context.Background())
	require.NoError(t, err)
	var offer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(sess.BroadcasterOffer, &offer))
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Equal(t, 1, peers.last(t).tracks)

	peers.last(t).fireCandidate(5000)
	assert.Eventually(t, func() bool {
		sess, err := mem.Snapshot(context.Background())
		return err == nil && len(sess.BroadcasterCandidates) == 1
	}, waitFor, testInterval, "local candidate is posted, end-of-gathering is not")

	assert.ErrorIs(t, b.Start(context.Background()), ErrAlreadyStarted)
}

func TestBroadcaster_AppliesAnswerOnce(t *testing.T) {
	_, peers, _, client := startBroadcaster(t)
	pc := peers.last(t)
	ctx := context.Background()

	answer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 viewer"})
	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeAnswer, Role: models.RoleViewer, SDP: answer}))

	assert.Eventually(t, func() bool { return pc.remoteCount() == 1 }, waitFor, testInterval)

	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeCandidate, Role: models.RoleViewer, Candidate: candidate("c1")}))
	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeCandidate, Role: models.RoleViewer, Candidate: candidate("c2")}))
	assert.Eventually(t, func() bool { return len(pc.applied()) == 2 }, waitFor, testInterval)

	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeCandidate, Role: models.RoleViewer, Candidate: candidate("c3")}))
	assert.Eventually(t, func() bool { return len(pc.applied()) == 3 }, waitFor, testInterval)

	// several more polls see the same answer and list
	polls := 0
	assert.Eventually(t, func() bool { polls++; return polls > 5 }, waitFor, testInterval)

	assert.Equal(t, 1, pc.remoteCount(), "answer applied once")
	assert.Equal(t, []string{"c1", "c2", "c3"}, pc.applied(), "candidates applied once, in order")
}

func TestBroadcaster_ConnectionState(t *testing.T) {
	b, peers, src, _ := startBroadcaster(t)
	pc := peers.last(t)

	pc.fireState(webrtc.PeerConnectionStateConnecting)
	assert.Equal(t, BroadcasterWaiting, b.State())

	pc.fireState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, BroadcasterConnected, b.State())

	pc.fireState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, BroadcasterIdle, b.State())
	assert.True(t, pc.isClosed())
	assert.Equal(t, int32(1), src.closed.Load())

	// late events from the old connection are ignored
	pc.fireState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, BroadcasterIdle, b.State())
}

func TestBroadcaster_Restart(t *testing.T) {
	b, peers, src, _ := startBroadcaster(t)
	first := peers.last(t)

	b.Stop()
	b.Stop()
	assert.Equal(t, BroadcasterIdle, b.State())
	assert.True(t, first.isClosed())
	assert.Equal(t, int32(1), src.closed.Load())

	require.NoError(t, b.Start(context.Background()))
	second := peers.last(t)
	assert.NotSame(t, first, second)

	// the old peer's disconnect must not tear down the new session
	first.fireState(webrtc.PeerConnectionStateDisconnected)
	assert.Equal(t, BroadcasterWaiting, b.State())
	assert.False(t, second.isClosed())
}

func TestBroadcaster_StopHaltsPolling(t *testing.T) {
	_, client := newServer(t)
	sig := &flakySignaler{Signaler: client}
	b := NewBroadcaster(sig, &fakeCamera{src: &fakeSource{}}, (&peerRecorder{}).factory, testInterval)

	require.NoError(t, b.Start(context.Background()))
	assert.Eventually(t, func() bool { return sig.polls.Load() > 0 }, waitFor, testInterval)

	b.Stop()
	after := sig.polls.Load()
	polls := 0
	assert.Eventually(t, func() bool { polls++; return polls > 5 }, waitFor, testInterval)
	assert.Equal(t, after, sig.polls.Load())
}

func TestBroadcaster_StartFailures(t *testing.T) {
	t.Run("camera unavailable", func(t *testing.T) {
		_, client := newServer(t)
		peers := &peerRecorder{}
		b := NewBroadcaster(client, &fakeCamera{err: errFake}, peers.factory, testInterval)

		assert.ErrorIs(t, b.Start(context.Background()), errFake)
		assert.Equal(t, BroadcasterIdle, b.State())
		assert.Empty(t, peers.peers)
	})

	t.Run("peer connection", func(t *testing.T) {
		_, client := newServer(t)
		src := &fakeSource{}
		b := NewBroadcaster(client, &fakeCamera{src: src}, (&peerRecorder{fail: true}).factory, testInterval)

		assert.ErrorIs(t, b.Start(context.Background()), errFake)
		assert.Equal(t, BroadcasterIdle, b.State())
		assert.Equal(t, int32(1), src.closed.Load())
	})

	t.Run("offer post", func(t *testing.T) {
		_, client := newServer(t)
		sig := &flakySignaler{Signaler: client, failType: models.SignalTypeOffer}
		sig.failures.Store(1)
		peers := &peerRecorder{}
		src := &fakeSource{}
		b := NewBroadcaster(sig, &fakeCamera{src: src}, peers.factory, testInterval)

		assert.ErrorIs(t, b.Start(context.Background()), errFake)
		assert.Equal(t, BroadcasterIdle, b.State())
		assert.True(t, peers.last(t).isClosed())
		assert.Equal(t, int32(1), src.closed.Load())
	})
}

func TestBroadcaster_CandidatesWaitForAnswer(t *testing.T) {
	_, peers, _, client := startBroadcaster(t)
	pc := peers.last(t)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeCandidate, Role: models.RoleViewer, Candidate: candidate("early")}))

	polls := 0
	assert.Eventually(t, func() bool { polls++; return polls > 5 }, waitFor, testInterval)
	assert.Empty(t, pc.applied())

	answer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 viewer"})
	require.NoError(t, client.Send(ctx, models.SignalMessage{Type: models.SignalTypeAnswer, Role: models.RoleViewer, SDP: answer}))

	assert.Eventually(t, func() bool { return len(pc.applied()) == 1 }, waitFor, testInterval)
	assert.Equal(t, []string{"early"}, pc.applied())
}
