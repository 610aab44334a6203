package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raft"
)

const nodeIDHeader = "node-id"

// GetQueueReply is the wire reply for the argument-less GetQueue RPC,
// since raft.Handler.GetQueue returns a bare slice rather than a
// *raft.ClientReply.
type GetQueueReply struct {
	Queue []fsm.Track
}

// srcFromContext recovers the caller's PeerID from the node-id
// metadata header attached by GRPCTransport. A call with no such
// header (an external client dialing the node directly, or metadata
// stripped in transit) is attributed to raft.ClientCaller.
func srcFromContext(ctx context.Context) raft.PeerID {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return raft.ClientCaller
	}
	vals := md.Get(nodeIDHeader)
	if len(vals) == 0 {
		return raft.ClientCaller
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return raft.ClientCaller
	}
	return raft.PeerID(n)
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.RequestVoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raft.Handler).RequestVote(ctx, srcFromContext(ctx), req.(*raft.RequestVoteArgs))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/RequestVote"}
	return interceptor(ctx, in, info, handler)
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raft.Handler).AppendEntries(ctx, srcFromContext(ctx), req.(*raft.AppendEntriesArgs))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/AppendEntries"}
	return interceptor(ctx, in, info, handler)
}

func addTrackHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AddTrackArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raft.Handler).AddTrack(ctx, srcFromContext(ctx), req.(*raft.AddTrackArgs))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/AddTrack"}
	return interceptor(ctx, in, info, handler)
}

func removeTrackHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.RemoveTrackArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raft.Handler).RemoveTrack(ctx, srcFromContext(ctx), req.(*raft.RemoveTrackArgs))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/RemoveTrack"}
	return interceptor(ctx, in, info, handler)
}

func getQueueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptyArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		queue, err := srv.(raft.Handler).GetQueue(ctx, srcFromContext(ctx))
		if err != nil {
			return nil, err
		}
		return &GetQueueReply{Queue: queue}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/GetQueue"}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is hand-written in the shape protoc-gen-go-grpc would
// emit from a raft.proto declaring RequestVote, AppendEntries,
// AddTrack, RemoveTrack and GetQueue as unary RPCs on one service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raft.Raft",
	HandlerType: (*raft.Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "AddTrack", Handler: addTrackHandler},
		{MethodName: "RemoveTrack", Handler: removeTrackHandler},
		{MethodName: "GetQueue", Handler: getQueueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft.proto",
}

// RegisterServer wires a raft.Handler (a *raft.Node, in practice) into
// a *grpc.Server under the Raft service.
func RegisterServer(s *grpc.Server, h raft.Handler) {
	s.RegisterService(&serviceDesc, h)
}

// GRPCTransport is the real peer transport: one cached *grpc.ClientConn
// per peer, dialed lazily on first use.
type GRPCTransport struct {
	mu    sync.Mutex
	addrs map[raft.PeerID]string
	conns map[raft.PeerID]*grpc.ClientConn
}

// NewGRPCTransport builds a transport over the given peer address map
// (peer id -> "host:port"), excluding the local node.
func NewGRPCTransport(addrs map[raft.PeerID]string) *GRPCTransport {
	return &GRPCTransport{
		addrs: addrs,
		conns: make(map[raft.PeerID]*grpc.ClientConn),
	}
}

// Close tears down every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *GRPCTransport) connFor(peer raft.PeerID) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}
	addr, ok := t.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no address known for peer %d", peer)
	}
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("transport: dial peer %d at %s: %w", peer, addr, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

func outgoingContext(ctx context.Context, from raft.PeerID) context.Context {
	return metadata.AppendToOutgoingContext(ctx, nodeIDHeader, strconv.Itoa(int(from)))
}

func (t *GRPCTransport) RequestVote(ctx context.Context, from, to raft.PeerID, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	conn, err := t.connFor(to)
	if err != nil {
		return nil, err
	}
	out := new(raft.RequestVoteReply)
	if err := conn.Invoke(outgoingContext(ctx, from), "/raft.Raft/RequestVote", args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *GRPCTransport) AppendEntries(ctx context.Context, from, to raft.PeerID, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	conn, err := t.connFor(to)
	if err != nil {
		return nil, err
	}
	out := new(raft.AppendEntriesReply)
	if err := conn.Invoke(outgoingContext(ctx, from), "/raft.Raft/AppendEntries", args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *GRPCTransport) AddTrack(ctx context.Context, from, to raft.PeerID, args *raft.AddTrackArgs) (*raft.ClientReply, error) {
	conn, err := t.connFor(to)
	if err != nil {
		return nil, err
	}
	out := new(raft.ClientReply)
	if err := conn.Invoke(outgoingContext(ctx, from), "/raft.Raft/AddTrack", args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *GRPCTransport) RemoveTrack(ctx context.Context, from, to raft.PeerID, args *raft.RemoveTrackArgs) (*raft.ClientReply, error) {
	conn, err := t.connFor(to)
	if err != nil {
		return nil, err
	}
	out := new(raft.ClientReply)
	if err := conn.Invoke(outgoingContext(ctx, from), "/raft.Raft/RemoveTrack", args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *GRPCTransport) GetQueue(ctx context.Context, from, to raft.PeerID) ([]fsm.Track, error) {
	conn, err := t.connFor(to)
	if err != nil {
		return nil, err
	}
	out := new(GetQueueReply)
	if err := conn.Invoke(outgoingContext(ctx, from), "/raft.Raft/GetQueue", &emptyArgs{}, out); err != nil {
		return nil, err
	}
	return out.Queue, nil
}
