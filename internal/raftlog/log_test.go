package raftlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyLogDefaults(t *testing.T) {
	var l Log
	require.Equal(t, int64(-1), l.LastIndex())
	require.Equal(t, uint64(0), l.LastTerm())
	require.True(t, l.MatchPrefix(-1, 0))
	require.False(t, l.MatchPrefix(0, 1))
}

func TestAppendLocalAssignsSequentialIndices(t *testing.T) {
	var l Log
	i0 := l.AppendLocal(1, CommandAdd, []byte("a"))
	i1 := l.AppendLocal(1, CommandAdd, []byte("b"))
	require.Equal(t, int64(0), i0)
	require.Equal(t, int64(1), i1)
	require.Equal(t, int64(1), l.LastIndex())
	require.Equal(t, uint64(1), l.LastTerm())
}

func TestApplyAppendRejectsOnPrefixMismatch(t *testing.T) {
	var l Log
	l.AppendLocal(1, CommandAdd, nil)

	result := l.ApplyAppend(0, 2, []Entry{{Term: 2, Index: 1}})
	require.False(t, result.Accepted)
	require.Equal(t, int64(0), l.LastIndex())
}

func TestApplyAppendMergesAndTruncatesOnConflict(t *testing.T) {
	var l Log
	l.AppendLocal(1, CommandAdd, nil)
	l.AppendLocal(1, CommandAdd, nil)
	l.AppendLocal(1, CommandAdd, nil)

	// A leader from term 2 overwrites index 1 onward.
	result := l.ApplyAppend(0, 1, []Entry{
		{Term: 2, Index: 1, Command: CommandRemove},
	})
	require.True(t, result.Accepted)
	require.Equal(t, int64(1), l.LastIndex())
	e, ok := l.EntryAt(1)
	require.True(t, ok)
	require.Equal(t, uint64(2), e.Term)
	require.Equal(t, CommandRemove, e.Command)
}

func TestApplyAppendIsIdempotentOnRedelivery(t *testing.T) {
	var l Log
	l.AppendLocal(1, CommandAdd, []byte("x"))
	l.AppendLocal(1, CommandAdd, []byte("y"))

	before := l.EntriesFrom(0)
	result := l.ApplyAppend(-1, 0, before)
	require.True(t, result.Accepted)
	require.Equal(t, int64(1), l.LastIndex())
	require.Equal(t, before, l.EntriesFrom(0))
}

func TestEntriesFromOutOfRangeReturnsNil(t *testing.T) {
	var l Log
	l.AppendLocal(1, CommandAdd, nil)
	require.Nil(t, l.EntriesFrom(5))
}

func TestTruncateFromNegativeClearsEverything(t *testing.T) {
	var l Log
	l.AppendLocal(1, CommandAdd, nil)
	l.AppendLocal(1, CommandAdd, nil)
	l.TruncateFrom(-1)
	require.Equal(t, 0, l.Length())
}
