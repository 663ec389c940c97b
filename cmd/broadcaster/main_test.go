package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mossy-p/fabcam/internal/agent"
)

type stubBroadcast struct {
	mu     sync.Mutex
	state  agent.BroadcasterState
	starts int
	stops  int
}

func (s *stubBroadcast) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.state = agent.BroadcasterWaiting
	return nil
}

func (s *stubBroadcast) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.state = agent.BroadcasterIdle
}

func (s *stubBroadcast) State() agent.BroadcasterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubBroadcast) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = agent.BroadcasterIdle
}

func (s *stubBroadcast) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func TestRunRestartsOnlyOnEnter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &stubBroadcast{state: agent.BroadcasterWaiting, starts: 1}
	lines := make(chan struct{})

	done := make(chan struct{})
	go func() {
		run(ctx, b, lines)
		close(done)
	}()

	// a dropped connection does not publish a new offer by itself
	b.drop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.startCount())
	assert.Equal(t, agent.BroadcasterIdle, b.State())

	lines <- struct{}{}
	assert.Eventually(t, func() bool { return b.startCount() == 2 }, time.Second, time.Millisecond)

	// Enter while broadcasting is ignored
	lines <- struct{}{}
	lines <- struct{}{}
	assert.Equal(t, 2, b.startCount())

	cancel()
	<-done
	assert.Equal(t, 1, b.stops)
}
