package raft

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
)

// standaloneNode builds a Node with no transport and no peers, useful
// for exercising gateway logic that never needs to dial out.
func standaloneNode(t *testing.T) *Node {
	t.Helper()
	cfg := Config{
		ID:                 0,
		TickInterval:       time.Millisecond,
		HeartbeatInterval:  time.Millisecond,
		ElectionTimeoutMin: time.Hour,
		ElectionTimeoutMax: time.Hour,
		RPCTimeout:         50 * time.Millisecond,
		ClientApplyTimeout: 50 * time.Millisecond,
	}
	return New(cfg, nil, nil, fsm.New(), nil, clock.NewMock())
}

func TestAddTrackWithNoKnownLeaderReportsNoLeader(t *testing.T) {
	n := standaloneNode(t)
	// never started: role stays Follower, hasLeader stays false.
	reply, err := n.AddTrack(context.Background(), ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "x"}})
	require.NoError(t, err)
	require.Equal(t, StatusNoLeader, reply.Status)
	require.NotEmpty(t, reply.ClientID)
}

func TestAddTrackGeneratesClientIDWhenOmitted(t *testing.T) {
	n := standaloneNode(t)
	n.mu.Lock()
	n.role = Leader
	n.mu.Unlock()

	// With zero peers this node is its own majority, so the proposal
	// commits immediately without waiting on any replication reply.
	reply, err := n.AddTrack(context.Background(), ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "x"}})
	require.NoError(t, err)
	require.NotEmpty(t, reply.ClientID)
	require.Equal(t, StatusQueued, reply.Status)
}

func TestRequireLeaderLockedReportsErrNotLeader(t *testing.T) {
	n := standaloneNode(t)
	n.mu.Lock()
	defer n.mu.Unlock()
	require.ErrorIs(t, n.requireLeaderLocked(), ErrNotLeader)

	n.role = Leader
	require.NoError(t, n.requireLeaderLocked())
}

func TestCurrentLeaderLockedReportsErrNoLeader(t *testing.T) {
	n := standaloneNode(t)
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.currentLeaderLocked()
	require.ErrorIs(t, err, ErrNoLeader)

	n.leaderID = 3
	n.hasLeader = true
	id, err := n.currentLeaderLocked()
	require.NoError(t, err)
	require.Equal(t, PeerID(3), id)
}

func TestAwaitCommitTimesOutWithoutReplication(t *testing.T) {
	n := standaloneNode(t)
	clk := n.clock.(*clock.Mock)

	n.mu.Lock()
	n.role = Leader
	index := n.log.AppendLocal(n.currentTerm, 0, nil)
	n.mu.Unlock()

	resultCh := make(chan ClientStatus, 1)
	errCh := make(chan error, 1)
	go func() {
		status, err := n.awaitCommit(index, n.currentTerm)
		resultCh <- status
		errCh <- err
	}()

	clk.Add(n.cfg.ClientApplyTimeout + time.Millisecond)

	select {
	case status := <-resultCh:
		require.Equal(t, StatusQueuedNotCommitted, status)
		require.ErrorIs(t, <-errCh, ErrApplyTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitCommit never returned")
	}
}
