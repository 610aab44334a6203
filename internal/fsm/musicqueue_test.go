package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raftlog"
)

func addEntry(t *testing.T, index uint64, track Track) raftlog.Entry {
	t.Helper()
	payload, err := EncodeAdd(track)
	require.NoError(t, err)
	return raftlog.Entry{Index: index, Term: 1, Command: raftlog.CommandAdd, Payload: payload}
}

func removeEntry(t *testing.T, index uint64, trackID string) raftlog.Entry {
	t.Helper()
	payload, err := EncodeRemove(trackID)
	require.NoError(t, err)
	return raftlog.Entry{Index: index, Term: 1, Command: raftlog.CommandRemove, Payload: payload}
}

func TestApplyAddThenRemove(t *testing.T) {
	m := New()
	require.NoError(t, m.Apply(addEntry(t, 0, Track{ID: "a", Title: "Song A"})))
	require.Equal(t, []Track{{ID: "a", Title: "Song A"}}, m.Snapshot())

	require.NoError(t, m.Apply(removeEntry(t, 1, "a")))
	require.Empty(t, m.Snapshot())
}

func TestDuplicateAddIsNoOp(t *testing.T) {
	m := New()
	require.NoError(t, m.Apply(addEntry(t, 0, Track{ID: "a", Title: "Song A"})))
	require.NoError(t, m.Apply(addEntry(t, 1, Track{ID: "a", Title: "Different Title"})))

	require.Equal(t, []Track{{ID: "a", Title: "Song A"}}, m.Snapshot())
}

func TestRemoveOfMissingIDIsNoOp(t *testing.T) {
	m := New()
	require.NoError(t, m.Apply(removeEntry(t, 0, "ghost")))
	require.Empty(t, m.Snapshot())
}

func TestOrderPreservedAcrossAddsAndRemoves(t *testing.T) {
	m := New()
	require.NoError(t, m.Apply(addEntry(t, 0, Track{ID: "a"})))
	require.NoError(t, m.Apply(addEntry(t, 1, Track{ID: "b"})))
	require.NoError(t, m.Apply(addEntry(t, 2, Track{ID: "c"})))
	require.NoError(t, m.Apply(removeEntry(t, 3, "b")))

	got := m.Snapshot()
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "c", got[1].ID)
}

func TestApplyUnknownCommandReturnsError(t *testing.T) {
	m := New()
	err := m.Apply(raftlog.Entry{Index: 0, Term: 1, Command: raftlog.CommandKind(99)})
	require.Error(t, err)
}

func TestApplyNoopHasNoEffectOnQueue(t *testing.T) {
	m := New()
	require.NoError(t, m.Apply(raftlog.Entry{Index: 0, Term: 1, Command: raftlog.CommandNoop}))
	require.Empty(t, m.Snapshot())
	require.Empty(t, m.History())
}

func TestHistoryIsBoundedAndOrdered(t *testing.T) {
	m := New()
	for i := 0; i < historyLimit+10; i++ {
		require.NoError(t, m.Apply(addEntry(t, uint64(i), Track{ID: string(rune('a' + i%26))})))
	}
	hist := m.History()
	require.Len(t, hist, historyLimit)
	require.Equal(t, uint64(10), hist[0].Index)
}
