package raft

import (
	"context"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raftlog"
)

// PeerID identifies one member of the fixed cluster.
type PeerID int

// Role is the tagged variant a node occupies at any instant.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// RequestVoteArgs is the RequestVote RPC request.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  PeerID
	LastLogIndex int64
	LastLogTerm  uint64
}

// RequestVoteReply is the RequestVote RPC reply.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesArgs is the AppendEntries RPC request.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     PeerID
	PrevLogIndex int64
	PrevLogTerm  uint64
	Entries      []raftlog.Entry
	LeaderCommit int64
}

// AppendEntriesReply is the AppendEntries RPC reply.
type AppendEntriesReply struct {
	Term    uint64
	Success bool
}

// ClientStatus is the outcome label returned to a gateway caller.
type ClientStatus string

const (
	StatusQueued              ClientStatus = "queued"
	StatusQueuedNotCommitted  ClientStatus = "queued-but-not-committed"
	StatusNoLeader            ClientStatus = "no-leader"
	StatusForwarded           ClientStatus = "forwarded"
)

// ClientReply is the common reply shape for AddTrack/RemoveTrack.
// ClientID echoes back the idempotency key the request was recorded
// under, so a caller that omitted one can reuse the generated value on
// a retry instead of being assigned a fresh one each time.
type ClientReply struct {
	Status   ClientStatus
	Queue    []fsm.Track
	ClientID string
}

// AddTrackArgs is the AddTrack RPC request, identified by a
// (ClientID, RequestID) pair for duplicate suppression.
type AddTrackArgs struct {
	Track     fsm.Track
	ClientID  string
	RequestID uint64
}

// RemoveTrackArgs is the RemoveTrack RPC request.
type RemoveTrackArgs struct {
	TrackID   string
	ClientID  string
	RequestID uint64
}

// Transport is the outbound side of the peer transport: how a node
// reaches another member of the cluster. Implementations are
// responsible for connection caching and per-call deadlines; a
// transport-level failure (timeout, dial error, broken connection)
// must be reported as a plain error, never coerced into a negative
// vote or a failed append.
type Transport interface {
	RequestVote(ctx context.Context, from, to PeerID, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, from, to PeerID, args *AppendEntriesArgs) (*AppendEntriesReply, error)
	AddTrack(ctx context.Context, from, to PeerID, args *AddTrackArgs) (*ClientReply, error)
	RemoveTrack(ctx context.Context, from, to PeerID, args *RemoveTrackArgs) (*ClientReply, error)
	GetQueue(ctx context.Context, from, to PeerID) ([]fsm.Track, error)
}

// Handler is the inbound side of the peer transport: what a server
// implementation dispatches decoded requests to. *Node implements
// this.
type Handler interface {
	RequestVote(ctx context.Context, src PeerID, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, src PeerID, args *AppendEntriesArgs) (*AppendEntriesReply, error)
	AddTrack(ctx context.Context, src PeerID, args *AddTrackArgs) (*ClientReply, error)
	RemoveTrack(ctx context.Context, src PeerID, args *RemoveTrackArgs) (*ClientReply, error)
	GetQueue(ctx context.Context, src PeerID) ([]fsm.Track, error)
}
