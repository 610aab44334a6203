// Package transport provides the two Transport/Handler bindings used
// by a running cluster: a real gRPC client/server pair, and an
// in-process loopback used by tests to drive a deterministic
// multi-node cluster with a simulated clock and injectable packet
// loss. Neither implementation imports internal/raft's concrete Node
// type; both speak only the Transport/Handler interfaces it exports,
// so this package is the only one that knows about the wire.
package transport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers and
// requires on every call. There is no .proto/protoc toolchain
// available to this build, so RPC messages are carried as gob-encoded
// Go structs through grpc-go's documented codec extension point
// (encoding.RegisterCodec plus grpc.CallContentSubtype) instead of
// generated protobuf marshaling.
const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string {
	return codecName
}

// emptyArgs is the wire request for the argument-less GetQueue RPC.
type emptyArgs struct{}
