package raft

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/transport"
)

// cluster bundles a fixed set of Node values wired together through a
// shared Loopback transport and a shared mock clock, the same way a
// real deployment shares nothing but the network between peers except
// here the network and the wall clock are both simulated so tests can
// drive time deterministically instead of sleeping.
type cluster struct {
	nodes []*Node
	lb    *transport.Loopback
	clk   *clock.Mock
}

func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	clk := clock.NewMock()
	lb := transport.NewLoopback()

	ids := make([]PeerID, n)
	for i := range ids {
		ids[i] = PeerID(i)
	}

	c := &cluster{lb: lb, clk: clk}
	for i := 0; i < n; i++ {
		peers := make([]PeerID, 0, n-1)
		for _, id := range ids {
			if id != PeerID(i) {
				peers = append(peers, id)
			}
		}
		cfg := Config{
			ID:                 PeerID(i),
			Peers:              peers,
			TickInterval:       10 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
			ClientApplyTimeout: time.Second,
		}
		node := New(cfg, lb, nil, fsm.New(), nil, clk)
		lb.Register(PeerID(i), node)
		c.nodes = append(c.nodes, node)
	}
	return c
}

func (c *cluster) start() {
	for _, n := range c.nodes {
		n.Start()
	}
}

func (c *cluster) stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// advance moves the mock clock forward in small ticks so every node's
// ticker goroutine observes intermediate wakeups instead of jumping
// straight past its election deadline in one step.
func (c *cluster) advance(t *testing.T, d time.Duration) {
	t.Helper()
	const step = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		c.clk.Add(step)
		time.Sleep(time.Millisecond)
	}
}

func (c *cluster) awaitLeader(t *testing.T, within time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range c.nodes {
			if n.Role() == Leader {
				return n
			}
		}
		c.advance(t, 20*time.Millisecond)
	}
	t.Fatal("no leader elected within simulated budget")
	return nil
}

func TestSingleNodeClusterSelfElects(t *testing.T) {
	c := newCluster(t, 1)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, time.Second)
	require.Equal(t, PeerID(0), leader.id)
}

func TestThreeNodeClusterElectsExactlyOneLeaderPerTerm(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, 2*time.Second)
	term := leader.CurrentTerm()

	leaders := 0
	for _, n := range c.nodes {
		if n.Role() == Leader {
			leaders++
			require.Equal(t, term, n.CurrentTerm())
		}
	}
	require.Equal(t, 1, leaders)
}

func TestCommittedEntryReplicatesToFollowers(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan *ClientReply, 1)
	go func() {
		reply, err := leader.AddTrack(ctx, ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "song-1"}})
		require.NoError(t, err)
		done <- reply
	}()

	var reply *ClientReply
	deadline := time.Now().Add(3 * time.Second)
	for reply == nil && time.Now().Before(deadline) {
		select {
		case reply = <-done:
		default:
			c.advance(t, 20*time.Millisecond)
		}
	}
	require.NotNil(t, reply)
	require.Equal(t, StatusQueued, reply.Status)

	for _, n := range c.nodes {
		require.Eventually(t, func() bool {
			snap := n.Snapshot()
			return len(snap) == 1 && snap[0].ID == "song-1"
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestDuplicateProposalIsSuppressed(t *testing.T) {
	c := newCluster(t, 1)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, time.Second)
	ctx := context.Background()

	args := &AddTrackArgs{Track: fsm.Track{ID: "c"}, ClientID: "client-1", RequestID: 1}

	first := make(chan *ClientReply, 1)
	second := make(chan *ClientReply, 1)
	go func() {
		r, err := leader.AddTrack(ctx, ClientCaller, args)
		require.NoError(t, err)
		first <- r
	}()
	go func() {
		r, err := leader.AddTrack(ctx, ClientCaller, args)
		require.NoError(t, err)
		second <- r
	}()

	var r1, r2 *ClientReply
	deadline := time.Now().Add(2 * time.Second)
	for (r1 == nil || r2 == nil) && time.Now().Before(deadline) {
		select {
		case r1 = <-first:
		case r2 = <-second:
		default:
			c.advance(t, 10*time.Millisecond)
		}
	}
	require.NotNil(t, r1)
	require.NotNil(t, r2)

	snap := leader.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "c", snap[0].ID)
}

func TestNonLeaderForwardsToKnownLeader(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, 2*time.Second)

	var follower *Node
	for _, n := range c.nodes {
		if n.Role() != Leader {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *ClientReply, 1)
	go func() {
		reply, err := follower.AddTrack(ctx, ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "forwarded-track"}})
		require.NoError(t, err)
		done <- reply
	}()

	var reply *ClientReply
	deadline := time.Now().Add(3 * time.Second)
	for reply == nil && time.Now().Before(deadline) {
		select {
		case reply = <-done:
		default:
			c.advance(t, 20*time.Millisecond)
		}
	}
	require.NotNil(t, reply)
	require.NotEqual(t, StatusNoLeader, reply.Status)

	require.Eventually(t, func() bool {
		snap := leader.Snapshot()
		for _, tr := range snap {
			if tr.ID == "forwarded-track" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetQueueServedLocallyEvenWithoutLeader(t *testing.T) {
	c := newCluster(t, 3)
	// Deliberately never start: no node ever becomes leader, but reads
	// are still served from whatever the local FSM holds.
	n := c.nodes[0]
	snap, err := n.GetQueue(context.Background(), ClientCaller)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestStoppedNodeRejectsClientRPCs(t *testing.T) {
	c := newCluster(t, 1)
	c.start()
	leader := c.awaitLeader(t, time.Second)
	c.stop()

	_, err := leader.AddTrack(context.Background(), ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "x"}})
	require.ErrorIs(t, err, ErrShutdown)

	_, err = leader.GetQueue(context.Background(), ClientCaller)
	require.ErrorIs(t, err, ErrShutdown)
}

func TestReplicationSurvivesOneDroppedHeartbeat(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(t, 2*time.Second)

	var followerID PeerID
	for _, n := range c.nodes {
		if n.Role() != Leader {
			followerID = n.id
			break
		}
	}
	c.lb.DropNext(leader.id, followerID, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *ClientReply, 1)
	go func() {
		reply, err := leader.AddTrack(ctx, ClientCaller, &AddTrackArgs{Track: fsm.Track{ID: "resilient"}})
		require.NoError(t, err)
		done <- reply
	}()

	var reply *ClientReply
	deadline := time.Now().Add(3 * time.Second)
	for reply == nil && time.Now().Before(deadline) {
		select {
		case reply = <-done:
		default:
			c.advance(t, 20*time.Millisecond)
		}
	}
	require.NotNil(t, reply)
	require.Equal(t, StatusQueued, reply.Status)
}
