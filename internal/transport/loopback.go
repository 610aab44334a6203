package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raft"
)

type dropKey struct {
	from, to raft.PeerID
}

// Loopback is an in-process raft.Transport that dispatches directly to
// registered raft.Handler values, with no network or serialization
// involved. Tests build a cluster by constructing one Loopback,
// building each node against it, and then Register-ing each node's
// Handler once it exists, avoiding any construction-order cycle
// between a node and the transport it was given.
type Loopback struct {
	mu       sync.Mutex
	handlers map[raft.PeerID]raft.Handler
	drop     map[dropKey]int
}

// NewLoopback returns an empty Loopback with nothing registered yet.
func NewLoopback() *Loopback {
	return &Loopback{
		handlers: make(map[raft.PeerID]raft.Handler),
		drop:     make(map[dropKey]int),
	}
}

// Register binds a peer id to the Handler that should receive calls
// addressed to it.
func (l *Loopback) Register(id raft.PeerID, h raft.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[id] = h
}

// DropNext discards the next n messages sent from `from` to `to`,
// regardless of RPC kind, modeling a transient network partition or
// packet loss for deterministic replication tests.
func (l *Loopback) DropNext(from, to raft.PeerID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop[dropKey{from, to}] = n
}

func (l *Loopback) shouldDrop(from, to raft.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := dropKey{from, to}
	if n := l.drop[key]; n > 0 {
		l.drop[key] = n - 1
		return true
	}
	return false
}

func (l *Loopback) handlerFor(to raft.PeerID) (raft.Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handlers[to]
	if !ok {
		return nil, fmt.Errorf("loopback: no handler registered for peer %d", to)
	}
	return h, nil
}

func (l *Loopback) RequestVote(ctx context.Context, from, to raft.PeerID, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	if l.shouldDrop(from, to) {
		return nil, fmt.Errorf("loopback: RequestVote from %d to %d dropped", from, to)
	}
	h, err := l.handlerFor(to)
	if err != nil {
		return nil, err
	}
	return h.RequestVote(ctx, from, args)
}

func (l *Loopback) AppendEntries(ctx context.Context, from, to raft.PeerID, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	if l.shouldDrop(from, to) {
		return nil, fmt.Errorf("loopback: AppendEntries from %d to %d dropped", from, to)
	}
	h, err := l.handlerFor(to)
	if err != nil {
		return nil, err
	}
	return h.AppendEntries(ctx, from, args)
}

func (l *Loopback) AddTrack(ctx context.Context, from, to raft.PeerID, args *raft.AddTrackArgs) (*raft.ClientReply, error) {
	if l.shouldDrop(from, to) {
		return nil, fmt.Errorf("loopback: AddTrack from %d to %d dropped", from, to)
	}
	h, err := l.handlerFor(to)
	if err != nil {
		return nil, err
	}
	return h.AddTrack(ctx, from, args)
}

func (l *Loopback) RemoveTrack(ctx context.Context, from, to raft.PeerID, args *raft.RemoveTrackArgs) (*raft.ClientReply, error) {
	if l.shouldDrop(from, to) {
		return nil, fmt.Errorf("loopback: RemoveTrack from %d to %d dropped", from, to)
	}
	h, err := l.handlerFor(to)
	if err != nil {
		return nil, err
	}
	return h.RemoveTrack(ctx, from, args)
}

func (l *Loopback) GetQueue(ctx context.Context, from, to raft.PeerID) ([]fsm.Track, error) {
	if l.shouldDrop(from, to) {
		return nil, fmt.Errorf("loopback: GetQueue from %d to %d dropped", from, to)
	}
	h, err := l.handlerFor(to)
	if err != nil {
		return nil, err
	}
	return h.GetQueue(ctx, from)
}
