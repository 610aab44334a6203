package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raft"
)

func TestGobCodecRoundTrips(t *testing.T) {
	c := gobCodec{}
	require.Equal(t, "gob", c.Name())

	in := &raft.AppendEntriesArgs{Term: 7, LeaderID: 2, PrevLogIndex: 3}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(raft.AppendEntriesArgs)
	require.NoError(t, c.Unmarshal(data, out))
	require.Equal(t, in, out)
}
