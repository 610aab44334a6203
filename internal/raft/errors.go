package raft

import "errors"

// Sentinel errors returned by Node's exported surface, grounded on the
// moogacs-raft var block (NotLeader, LeadershipLost, RaftShutdown).
var (
	ErrNotLeader    = errors.New("raft: node is not the leader")
	ErrNoLeader     = errors.New("raft: no leader known")
	ErrShutdown     = errors.New("raft: node is shut down")
	ErrApplyTimeout = errors.New("raft: client-apply timeout elapsed before commit")
)
