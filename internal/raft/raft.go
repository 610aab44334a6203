// Package raft implements the coarse-locked, single-ticker Raft core:
// leader election and log replication driven off one mutex and one
// 50ms ticker goroutine, mirroring the reference server's _timer_loop
// rather than hashicorp/raft's channel-FSM design. Role transitions
// and commit-index advances always happen with the node's lock held;
// outbound RPCs are always dispatched from a fresh goroutine after the
// lock has been released.
package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raftlog"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/telemetry"
)

// ClientCaller is the synthetic PeerID used when an RPC handler is
// invoked directly by an external client rather than forwarded by
// another peer, so log lines and forwarding logic can tell the two
// apart without a separate boolean on every call.
const ClientCaller PeerID = -1

// Config holds the tunables for one Node. Every duration has a
// reasonable default from DefaultConfig; tests typically shrink all
// of them and drive time explicitly through an injected clock.Clock.
type Config struct {
	ID                  PeerID
	Peers               []PeerID
	TickInterval        time.Duration
	HeartbeatInterval   time.Duration
	ElectionTimeoutMin  time.Duration
	ElectionTimeoutMax  time.Duration
	RPCTimeout          time.Duration
	ClientApplyTimeout  time.Duration
}

// DefaultConfig returns tunables appropriate for a real network: a
// 50ms tick, 300ms heartbeats and a 1.5-3s randomized election
// timeout, comfortably above the heartbeat interval.
func DefaultConfig(id PeerID, peers []PeerID) Config {
	return Config{
		ID:                 id,
		Peers:              peers,
		TickInterval:       50 * time.Millisecond,
		HeartbeatInterval:  300 * time.Millisecond,
		ElectionTimeoutMin: 1500 * time.Millisecond,
		ElectionTimeoutMax: 3000 * time.Millisecond,
		RPCTimeout:         time.Second,
		ClientApplyTimeout: 5 * time.Second,
	}
}

type clientRequestState struct {
	requestID uint64
	index     int64
	term      uint64
	reply     *ClientReply
}

// Node is one member of the fixed cluster. All of its Raft state is
// guarded by mu; mu is not held across network calls (in
// sendRequestVote/sendAppendEntries and the gateway's forwarding), the
// tick-to-tick sleep in runTicker, or FSM reads, which rely on the
// FSM's own lock.
type Node struct {
	mu   sync.Mutex
	cond *sync.Cond

	id    PeerID
	peers []PeerID
	cfg   Config

	stable StableStore
	log    raftlog.Log
	fsm    *fsm.MusicQueue

	currentTerm uint64
	votedFor    PeerID
	hasVoted    bool

	role      Role
	leaderID  PeerID
	hasLeader bool

	commitIndex int64
	lastApplied int64

	nextIndex  map[PeerID]int64
	matchIndex map[PeerID]int64

	votesReceived int

	electionDeadline  time.Time
	lastHeartbeatSent time.Time

	lastRequest map[string]*clientRequestState

	transport Transport
	metrics   *telemetry.Metrics
	clock     clock.Clock
	rng       *rand.Rand

	stopCh  chan struct{}
	stopped bool
}

// New builds a Node. A nil transport is only valid in tests that never
// exercise replication; a nil stable store or fsm falls back to the
// in-memory defaults; a nil clock.Clock falls back to the real wall
// clock.
func New(cfg Config, transport Transport, stable StableStore, machine *fsm.MusicQueue, metrics *telemetry.Metrics, clk clock.Clock) *Node {
	if clk == nil {
		clk = clock.New()
	}
	if stable == nil {
		stable = NewMemoryStableStore()
	}
	if machine == nil {
		machine = fsm.New()
	}

	n := &Node{
		id:          cfg.ID,
		peers:       append([]PeerID{}, cfg.Peers...),
		cfg:         cfg,
		stable:      stable,
		fsm:         machine,
		transport:   transport,
		metrics:     metrics,
		clock:       clk,
		commitIndex: -1,
		lastApplied: -1,
		nextIndex:   make(map[PeerID]int64),
		matchIndex:  make(map[PeerID]int64),
		lastRequest: make(map[string]*clientRequestState),
		stopCh:      make(chan struct{}),
		rng:         rand.New(rand.NewSource(int64(cfg.ID)*31 + clk.Now().UnixNano())),
	}
	n.cond = sync.NewCond(&n.mu)

	if term, err := stable.CurrentTerm(); err == nil {
		n.currentTerm = term
	}
	if voted, ok, err := stable.VotedFor(); err == nil && ok {
		n.votedFor = voted
		n.hasVoted = true
	}

	n.mu.Lock()
	n.resetElectionDeadlineLocked()
	n.mu.Unlock()

	return n
}

// Start launches the background ticker goroutine. Safe to call once.
func (n *Node) Start() {
	go n.runTicker()
}

// Stop halts the ticker goroutine and releases anything blocked on the
// commit-wait condition.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true
	close(n.stopCh)
	n.cond.Broadcast()
}

// Role reports the node's current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// CurrentTerm reports the node's current term.
func (n *Node) CurrentTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// LeaderID reports the last known leader, if any.
func (n *Node) LeaderID() (PeerID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID, n.hasLeader
}

// CommitIndex reports the highest index known committed.
func (n *Node) CommitIndex() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// Snapshot returns the current FSM view.
func (n *Node) Snapshot() []fsm.Track {
	return n.fsm.Snapshot()
}

// History returns the bounded applied-command history.
func (n *Node) History() []fsm.AppliedRecord {
	return n.fsm.History()
}

func (n *Node) quorum() int {
	return (len(n.peers)+1)/2 + 1
}

func (n *Node) resetElectionDeadlineLocked() {
	span := n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin
	jitter := time.Duration(0)
	if span > 0 {
		jitter = time.Duration(n.rng.Int63n(int64(span)))
	}
	n.electionDeadline = n.clock.Now().Add(n.cfg.ElectionTimeoutMin + jitter)
}

func (n *Node) candidateUpToDateLocked(lastLogIndex int64, lastLogTerm uint64) bool {
	ourTerm := n.log.LastTerm()
	if lastLogTerm != ourTerm {
		return lastLogTerm > ourTerm
	}
	return lastLogIndex >= n.log.LastIndex()
}

// runTicker drives both the election timer and the heartbeat timer off
// a single 50ms tick, the same way the reference implementation's
// _timer_loop does.
func (n *Node) runTicker() {
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}
		n.clock.Sleep(n.cfg.TickInterval)
		select {
		case <-n.stopCh:
			return
		default:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	n.mu.Lock()
	now := n.clock.Now()
	if n.role == Leader {
		if !now.Before(n.lastHeartbeatSent.Add(n.cfg.HeartbeatInterval)) {
			n.lastHeartbeatSent = now
			n.mu.Unlock()
			n.sendHeartbeats()
			return
		}
		n.mu.Unlock()
		return
	}
	if !now.Before(n.electionDeadline) {
		n.mu.Unlock()
		n.startElection()
		return
	}
	n.mu.Unlock()
}

func (n *Node) logRoleTransitionLocked(reason string) {
	log.Info().
		Int("node", int(n.id)).
		Str("role", n.role.String()).
		Uint64("term", n.currentTerm).
		Str("reason", reason).
		Msg("role transition")
	if n.metrics != nil {
		n.metrics.Role.Set(float64(n.role))
		n.metrics.CurrentTerm.Set(float64(n.currentTerm))
	}
}

func (n *Node) stepDownLocked(term uint64) {
	if term > n.currentTerm {
		n.currentTerm = term
		_ = n.stable.SetCurrentTerm(term)
		n.votedFor = 0
		n.hasVoted = false
		_ = n.stable.SetVotedFor(0, false)
	}
	wasLeader := n.role == Leader
	n.role = Follower
	n.hasLeader = false
	n.leaderID = 0
	n.resetElectionDeadlineLocked()
	if wasLeader {
		n.nextIndex = make(map[PeerID]int64)
		n.matchIndex = make(map[PeerID]int64)
	}
	n.logRoleTransitionLocked("step down")
}

func (n *Node) becomeLeaderLocked() {
	n.role = Leader
	n.leaderID = n.id
	n.hasLeader = true
	lastIndex := n.log.LastIndex()
	n.nextIndex = make(map[PeerID]int64, len(n.peers))
	n.matchIndex = make(map[PeerID]int64, len(n.peers))
	for _, p := range n.peers {
		n.nextIndex[p] = lastIndex + 1
		n.matchIndex[p] = -1
	}
	n.logRoleTransitionLocked("won election")
}

func (n *Node) startElection() {
	n.mu.Lock()
	n.role = Candidate
	n.currentTerm++
	term := n.currentTerm
	_ = n.stable.SetCurrentTerm(term)
	n.votedFor = n.id
	n.hasVoted = true
	_ = n.stable.SetVotedFor(n.id, true)
	n.votesReceived = 1
	n.resetElectionDeadlineLocked()
	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	peers := append([]PeerID{}, n.peers...)
	id := n.id
	n.logRoleTransitionLocked("election timeout")
	n.mu.Unlock()

	if len(peers) == 0 {
		// single-node cluster: we are our own majority.
		n.mu.Lock()
		if n.role == Candidate && n.currentTerm == term {
			n.becomeLeaderLocked()
		}
		n.mu.Unlock()
		return
	}

	args := &RequestVoteArgs{Term: term, CandidateID: id, LastLogIndex: lastIndex, LastLogTerm: lastTerm}
	for _, p := range peers {
		go n.sendRequestVote(p, term, args)
	}
}

func (n *Node) sendRequestVote(peer PeerID, term uint64, args *RequestVoteArgs) {
	log.Info().Msgf("Node %d sends RPC RequestVote to Node %d", n.id, peer)
	n.countSent("RequestVote")

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.RequestVote(ctx, n.id, peer, args)
	if err != nil {
		log.Warn().Err(err).Msgf("RequestVote to Node %d failed", peer)
		return
	}

	n.mu.Lock()
	becameLeader := false
	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
	} else if n.role == Candidate && n.currentTerm == term && reply.VoteGranted {
		n.votesReceived++
		if n.votesReceived >= n.quorum() {
			n.becomeLeaderLocked()
			becameLeader = true
		}
	}
	n.mu.Unlock()

	if becameLeader {
		n.sendHeartbeats()
	}
}

type appendBatchItem struct {
	peer PeerID
	args *AppendEntriesArgs
}

func (n *Node) sendHeartbeats() {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return
	}
	term := n.currentTerm
	commitIndex := n.commitIndex
	id := n.id
	batch := make([]appendBatchItem, 0, len(n.peers))
	for _, p := range n.peers {
		next := n.nextIndex[p]
		prevIndex := next - 1
		prevTerm := n.log.TermAt(prevIndex)
		entries := n.log.EntriesFrom(next)
		batch = append(batch, appendBatchItem{
			peer: p,
			args: &AppendEntriesArgs{
				Term:         term,
				LeaderID:     id,
				PrevLogIndex: prevIndex,
				PrevLogTerm:  prevTerm,
				Entries:      entries,
				LeaderCommit: commitIndex,
			},
		})
	}
	n.mu.Unlock()

	for _, item := range batch {
		go n.sendAppendEntries(item.peer, term, item.args)
	}
}

func (n *Node) sendAppendEntries(peer PeerID, term uint64, args *AppendEntriesArgs) {
	log.Info().Msgf("Node %d sends RPC AppendEntries to Node %d", n.id, peer)
	n.countSent("AppendEntries")

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.AppendEntries(ctx, n.id, peer, args)
	if err != nil {
		log.Warn().Err(err).Msgf("AppendEntries to Node %d failed", peer)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != Leader || n.currentTerm != term {
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
		return
	}
	if reply.Success {
		replicated := args.PrevLogIndex + int64(len(args.Entries))
		if replicated > n.matchIndex[peer] {
			n.matchIndex[peer] = replicated
		}
		if replicated+1 > n.nextIndex[peer] {
			n.nextIndex[peer] = replicated + 1
		}
		n.advanceCommitIndexLocked()
		return
	}
	if n.nextIndex[peer] > 0 {
		n.nextIndex[peer]--
	}
}

// advanceCommitIndexLocked applies the commit rule: an index is safe
// to commit once a majority (including the leader itself) has
// replicated it and the entry at that index belongs to the leader's
// current term. Older-term entries only become committed as a side
// effect of a later, current-term index crossing the majority mark.
func (n *Node) advanceCommitIndexLocked() {
	before := n.commitIndex
	lastIndex := n.log.LastIndex()
	for idx := n.commitIndex + 1; idx <= lastIndex; idx++ {
		if n.log.TermAt(idx) != n.currentTerm {
			continue
		}
		count := 1
		for _, p := range n.peers {
			if n.matchIndex[p] >= idx {
				count++
			}
		}
		if count >= n.quorum() {
			n.commitIndex = idx
		}
	}
	if n.commitIndex > n.log.LastIndex() {
		n.commitIndex = n.log.LastIndex()
	}
	n.logCommitAdvanceLocked(before)
	n.cond.Broadcast()
	n.applyCommittedLocked()
}

func (n *Node) logCommitAdvanceLocked(before int64) {
	if n.commitIndex == before {
		return
	}
	log.Info().
		Int("node", int(n.id)).
		Int64("from", before).
		Int64("to", n.commitIndex).
		Msg("commit index advanced")
}

func (n *Node) applyCommittedLocked() {
	for n.lastApplied < n.commitIndex {
		next := n.lastApplied + 1
		entry, ok := n.log.EntryAt(next)
		if !ok {
			break
		}
		if err := n.fsm.Apply(entry); err != nil {
			log.Error().Err(err).Int64("index", next).Msg("apply failed, skipping")
		}
		n.lastApplied = next
	}
	if n.metrics != nil {
		n.metrics.CommitIndex.Set(float64(n.commitIndex))
		n.metrics.LastApplied.Set(float64(n.lastApplied))
	}
}

func (n *Node) countSent(rpc string) {
	if n.metrics != nil {
		n.metrics.RPCsSent.WithLabelValues(rpc).Inc()
	}
}

func (n *Node) countRecv(rpc string) {
	if n.metrics != nil {
		n.metrics.RPCsRecv.WithLabelValues(rpc).Inc()
	}
}

func logInbound(nodeID PeerID, rpc string, src PeerID) {
	if src == ClientCaller {
		log.Info().Msgf("Node %d runs RPC %s called by Client", nodeID, rpc)
		return
	}
	log.Info().Msgf("Node %d runs RPC %s called by Node %d", nodeID, rpc, src)
}

// RequestVote is the inbound RequestVote handler.
func (n *Node) RequestVote(ctx context.Context, src PeerID, args *RequestVoteArgs) (*RequestVoteReply, error) {
	logInbound(n.id, "RequestVote", src)
	n.countRecv("RequestVote")

	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term > n.currentTerm {
		n.stepDownLocked(args.Term)
	}
	if args.Term < n.currentTerm {
		return &RequestVoteReply{Term: n.currentTerm, VoteGranted: false}, nil
	}

	granted := false
	canVote := !n.hasVoted || n.votedFor == args.CandidateID
	if canVote && n.candidateUpToDateLocked(args.LastLogIndex, args.LastLogTerm) {
		granted = true
		n.votedFor = args.CandidateID
		n.hasVoted = true
		_ = n.stable.SetVotedFor(args.CandidateID, true)
		n.resetElectionDeadlineLocked()
	}
	return &RequestVoteReply{Term: n.currentTerm, VoteGranted: granted}, nil
}

// AppendEntries is the inbound AppendEntries handler.
func (n *Node) AppendEntries(ctx context.Context, src PeerID, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	log.Info().Msgf("Node %d runs RPC AppendEntries called by Node %d", n.id, src)
	n.countRecv("AppendEntries")

	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term < n.currentTerm {
		return &AppendEntriesReply{Term: n.currentTerm, Success: false}, nil
	}
	if args.Term > n.currentTerm {
		n.stepDownLocked(args.Term)
	}

	n.role = Follower
	n.leaderID = args.LeaderID
	n.hasLeader = true
	n.resetElectionDeadlineLocked()

	result := n.log.ApplyAppend(args.PrevLogIndex, args.PrevLogTerm, args.Entries)
	if !result.Accepted {
		return &AppendEntriesReply{Term: n.currentTerm, Success: false}, nil
	}

	if args.LeaderCommit > n.commitIndex {
		before := n.commitIndex
		newCommit := args.LeaderCommit
		if lastIdx := n.log.LastIndex(); newCommit > lastIdx {
			newCommit = lastIdx
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
			n.logCommitAdvanceLocked(before)
			n.cond.Broadcast()
		}
		n.applyCommittedLocked()
	}

	return &AppendEntriesReply{Term: n.currentTerm, Success: true}, nil
}
