package raft

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raftlog"
)

// proposeLocked appends a new log entry for (clientID, requestID) or,
// if that pair was already seen, returns the existing index/term so
// the caller awaits the same entry instead of double-appending. A
// resolved duplicate (one whose reply is already known) is reported
// directly through cached.
func (n *Node) proposeLocked(clientID string, requestID uint64, cmd raftlog.CommandKind, payload []byte) (index int64, term uint64, cached *ClientReply) {
	if clientID != "" {
		if st, ok := n.lastRequest[clientID]; ok && st.requestID == requestID {
			if st.reply != nil {
				return 0, 0, st.reply
			}
			return st.index, st.term, nil
		}
	}

	term = n.currentTerm
	index = n.log.AppendLocal(term, cmd, payload)
	if clientID != "" {
		n.lastRequest[clientID] = &clientRequestState{requestID: requestID, index: index, term: term}
	}
	// With no peers the leader is its own majority: nothing will ever
	// call advanceCommitIndexLocked on this entry's behalf through an
	// AppendEntries reply, so check immediately rather than relying on
	// a reply that will never arrive.
	n.advanceCommitIndexLocked()
	return index, term, nil
}

func (n *Node) resolveClientRequestLocked(clientID string, requestID uint64, reply *ClientReply) {
	if clientID == "" {
		return
	}
	if st, ok := n.lastRequest[clientID]; ok && st.requestID == requestID {
		st.reply = reply
	}
}

// awaitCommit blocks until the entry proposed at (index, term) is
// committed, is superseded by a conflicting entry from a later leader,
// or the client-apply timeout elapses. It is woken both by the
// heartbeat/replication path's Broadcast on every commit-index advance
// and by its own timer, so concurrent proposers never serialize behind
// one another's timeout.
func (n *Node) awaitCommit(index int64, term uint64) (ClientStatus, error) {
	timer := n.clock.AfterFunc(n.cfg.ClientApplyTimeout, func() {
		n.mu.Lock()
		n.cond.Broadcast()
		n.mu.Unlock()
	})
	defer timer.Stop()

	deadline := n.clock.Now().Add(n.cfg.ClientApplyTimeout)

	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		if entry, ok := n.log.EntryAt(index); !ok || entry.Term != term {
			return StatusQueuedNotCommitted, nil
		}
		if n.commitIndex >= index {
			return StatusQueued, nil
		}
		if n.stopped {
			return StatusQueuedNotCommitted, ErrShutdown
		}
		if !n.clock.Now().Before(deadline) {
			return StatusQueuedNotCommitted, ErrApplyTimeout
		}
		n.cond.Wait()
	}
}

// AddTrack is the client-facing (and peer-forwarded) entrypoint for
// enqueuing a track. A non-leader forwards to the last known leader;
// a leader appends, kicks off an immediate replication round, and
// waits for the entry to commit before replying with the current
// queue contents.
func (n *Node) AddTrack(ctx context.Context, src PeerID, args *AddTrackArgs) (*ClientReply, error) {
	logInbound(n.id, "AddTrack", src)
	n.countRecv("AddTrack")
	if args.ClientID == "" {
		args.ClientID = uuid.NewString()
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil, ErrShutdown
	}
	if err := n.requireLeaderLocked(); err != nil {
		leaderID, leaderErr := n.currentLeaderLocked()
		n.mu.Unlock()
		return n.forwardAddTrack(ctx, leaderErr, leaderID, args)
	}

	payload, err := fsm.EncodeAdd(args.Track)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	index, term, cached := n.proposeLocked(args.ClientID, args.RequestID, raftlog.CommandAdd, payload)
	n.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	n.sendHeartbeats()
	status, err := n.awaitCommit(index, term)
	if err != nil {
		log.Warn().Err(err).Int64("index", index).Msg("AddTrack did not observe commit")
	}
	reply := &ClientReply{Status: status, Queue: n.fsm.Snapshot(), ClientID: args.ClientID}

	n.mu.Lock()
	n.resolveClientRequestLocked(args.ClientID, args.RequestID, reply)
	n.mu.Unlock()
	return reply, nil
}

// requireLeaderLocked reports ErrNotLeader unless this node currently
// holds leadership for the cluster.
func (n *Node) requireLeaderLocked() error {
	if n.role != Leader {
		return ErrNotLeader
	}
	return nil
}

// currentLeaderLocked reports the last known leader, or ErrNoLeader if
// none is known yet.
func (n *Node) currentLeaderLocked() (PeerID, error) {
	if !n.hasLeader {
		return 0, ErrNoLeader
	}
	return n.leaderID, nil
}

func (n *Node) forwardAddTrack(ctx context.Context, leaderErr error, leaderID PeerID, args *AddTrackArgs) (*ClientReply, error) {
	if args.ClientID == "" {
		args.ClientID = uuid.NewString()
	}
	if leaderErr != nil {
		return &ClientReply{Status: StatusNoLeader, ClientID: args.ClientID}, nil
	}
	log.Info().Msgf("Node %d forwards RPC AddTrack to Node %d", n.id, leaderID)
	cctx, cancel := context.WithTimeout(ctx, n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.AddTrack(cctx, n.id, leaderID, args)
	if err != nil {
		log.Warn().Err(err).Msgf("forwarding AddTrack to Node %d failed", leaderID)
		return &ClientReply{Status: StatusForwarded, ClientID: args.ClientID}, nil
	}
	return reply, nil
}

// RemoveTrack mirrors AddTrack for the REMOVE command.
func (n *Node) RemoveTrack(ctx context.Context, src PeerID, args *RemoveTrackArgs) (*ClientReply, error) {
	logInbound(n.id, "RemoveTrack", src)
	n.countRecv("RemoveTrack")
	if args.ClientID == "" {
		args.ClientID = uuid.NewString()
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil, ErrShutdown
	}
	if err := n.requireLeaderLocked(); err != nil {
		leaderID, leaderErr := n.currentLeaderLocked()
		n.mu.Unlock()
		return n.forwardRemoveTrack(ctx, leaderErr, leaderID, args)
	}

	payload, err := fsm.EncodeRemove(args.TrackID)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	index, term, cached := n.proposeLocked(args.ClientID, args.RequestID, raftlog.CommandRemove, payload)
	n.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	n.sendHeartbeats()
	status, err := n.awaitCommit(index, term)
	if err != nil {
		log.Warn().Err(err).Int64("index", index).Msg("RemoveTrack did not observe commit")
	}
	reply := &ClientReply{Status: status, Queue: n.fsm.Snapshot(), ClientID: args.ClientID}

	n.mu.Lock()
	n.resolveClientRequestLocked(args.ClientID, args.RequestID, reply)
	n.mu.Unlock()
	return reply, nil
}

func (n *Node) forwardRemoveTrack(ctx context.Context, leaderErr error, leaderID PeerID, args *RemoveTrackArgs) (*ClientReply, error) {
	if args.ClientID == "" {
		args.ClientID = uuid.NewString()
	}
	if leaderErr != nil {
		return &ClientReply{Status: StatusNoLeader, ClientID: args.ClientID}, nil
	}
	log.Info().Msgf("Node %d forwards RPC RemoveTrack to Node %d", n.id, leaderID)
	cctx, cancel := context.WithTimeout(ctx, n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.RemoveTrack(cctx, n.id, leaderID, args)
	if err != nil {
		log.Warn().Err(err).Msgf("forwarding RemoveTrack to Node %d failed", leaderID)
		return &ClientReply{Status: StatusForwarded, ClientID: args.ClientID}, nil
	}
	return reply, nil
}

// GetQueue always answers from the local FSM view, on any role: reads
// are allowed to be stale rather than forced through the leader.
func (n *Node) GetQueue(ctx context.Context, src PeerID) ([]fsm.Track, error) {
	logInbound(n.id, "GetQueue", src)
	n.countRecv("GetQueue")

	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		return nil, ErrShutdown
	}
	return n.fsm.Snapshot(), nil
}
