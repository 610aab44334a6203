// Package raftlog implements the ordered, append-only entry sequence
// each Raft peer keeps locally. It does no locking of its own: callers
// must hold the owning node's lock for the whole lifetime of a method
// call, the same way a slice field protected by an outer mutex would
// be used anywhere else in this codebase.
package raftlog

// CommandKind tags what an entry's payload means to the FSM.
type CommandKind uint8

const (
	// CommandNoop marks an entry that carries no FSM-visible mutation.
	CommandNoop CommandKind = iota
	CommandAdd
	CommandRemove
)

func (k CommandKind) String() string {
	switch k {
	case CommandAdd:
		return "ADD"
	case CommandRemove:
		return "REMOVE"
	default:
		return "NOOP"
	}
}

// Entry is a single immutable record in the replicated log.
type Entry struct {
	Term    uint64
	Index   uint64
	Command CommandKind
	Payload []byte
}

// Log is the 0-based, contiguous sequence of Entry values held by one
// peer. The zero value is an empty log.
type Log struct {
	entries []Entry
}

// Length returns the number of entries currently held.
func (l *Log) Length() int {
	return len(l.entries)
}

// LastIndex returns the index of the last entry, or -1 if the log is
// empty.
func (l *Log) LastIndex() int64 {
	if len(l.entries) == 0 {
		return -1
	}
	return int64(l.entries[len(l.entries)-1].Index)
}

// LastTerm returns the term of the last entry, or 0 if the log is
// empty (matching both reference raft_server.py variants, which treat
// an empty log as term 0 for vote and append comparisons).
func (l *Log) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// EntryAt returns the entry at the given 0-based index and whether it
// exists.
func (l *Log) EntryAt(index int64) (Entry, bool) {
	if index < 0 || index >= int64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[index], true
}

// TermAt returns the term of the entry at index, or 0 if there is no
// such entry (matching the convention used for LastTerm).
func (l *Log) TermAt(index int64) uint64 {
	e, ok := l.EntryAt(index)
	if !ok {
		return 0
	}
	return e.Term
}

// AppendLocal appends a new entry with the next available index and
// returns that index. Used by the leader when it originates an entry
// from a client proposal.
func (l *Log) AppendLocal(term uint64, cmd CommandKind, payload []byte) int64 {
	index := l.LastIndex() + 1
	l.entries = append(l.entries, Entry{
		Term:    term,
		Index:   uint64(index),
		Command: cmd,
		Payload: payload,
	})
	return index
}

// TruncateFrom discards every entry from index onward, inclusive.
func (l *Log) TruncateFrom(index int64) {
	if index < 0 {
		l.entries = l.entries[:0]
		return
	}
	if index >= int64(len(l.entries)) {
		return
	}
	l.entries = l.entries[:index]
}

// MatchPrefix reports whether this log's consistency check passes for
// a replication request whose previous entry is (prevIndex, prevTerm).
// A prevIndex below zero always matches (it represents "nothing
// before the start of the log").
func (l *Log) MatchPrefix(prevIndex int64, prevTerm uint64) bool {
	if prevIndex < 0 {
		return true
	}
	e, ok := l.EntryAt(prevIndex)
	if !ok {
		return false
	}
	return e.Term == prevTerm
}

// AppendResult reports the outcome of a bulk ApplyAppend.
type AppendResult struct {
	Accepted     bool
	LastNewIndex int64
}

// ApplyAppend is the follower-side consistency check and merge
// described by the Log Matching Property: given the leader's claim
// about the entry immediately preceding the new ones, either refuse
// (the prefix doesn't match) or merge entries one at a time,
// truncating from the first point of term disagreement and leaving
// already-matching entries untouched so that re-delivery is a no-op.
func (l *Log) ApplyAppend(prevIndex int64, prevTerm uint64, entries []Entry) AppendResult {
	if !l.MatchPrefix(prevIndex, prevTerm) {
		return AppendResult{Accepted: false}
	}

	insertAt := prevIndex + 1
	for _, entry := range entries {
		if existing, ok := l.EntryAt(insertAt); ok {
			if existing.Term != entry.Term {
				l.TruncateFrom(insertAt)
				l.entries = append(l.entries, entry)
			}
			// else: already present and identical, leave in place.
		} else {
			l.entries = append(l.entries, entry)
		}
		insertAt++
	}

	return AppendResult{Accepted: true, LastNewIndex: prevIndex + int64(len(entries))}
}

// EntriesFrom returns a copy of every entry from index onward,
// suitable for handing to a replication goroutine without risking a
// data race against further local mutation of the log.
func (l *Log) EntriesFrom(index int64) []Entry {
	if index < 0 {
		index = 0
	}
	if index >= int64(len(l.entries)) {
		return nil
	}
	out := make([]Entry, len(l.entries)-int(index))
	copy(out, l.entries[index:])
	return out
}
