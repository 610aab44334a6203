// Package fsm implements the deterministic music-queue state machine
// that committed Raft log entries are applied against.
package fsm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raftlog"
)

// Track is one entry in the music queue.
type Track struct {
	ID     string
	Title  string
	Artist string
}

// AppliedRecord is one entry in the bounded applied-command history
// kept for introspection; it is never consulted by the Raft core
// itself, only by read-side callers of History.
type AppliedRecord struct {
	Index   uint64
	Term    uint64
	Command raftlog.CommandKind
	TrackID string
}

const historyLimit = 64

// MusicQueue is the FSM described by the spec: an ordered set of
// tracks mutated only by ADD and REMOVE commands, with duplicate-id
// ADDs and missing-id REMOVEs treated as no-ops.
type MusicQueue struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]Track
	history []AppliedRecord
}

// New returns an empty music queue.
func New() *MusicQueue {
	return &MusicQueue{byID: make(map[string]Track)}
}

// AddPayload is the gob-encoded payload for an ADD command.
type AddPayload struct {
	Track Track
}

// RemovePayload is the gob-encoded payload for a REMOVE command.
type RemovePayload struct {
	TrackID string
}

// EncodeAdd serializes an ADD command payload.
func EncodeAdd(t Track) ([]byte, error) {
	return encode(AddPayload{Track: t})
}

// EncodeRemove serializes a REMOVE command payload.
func EncodeRemove(trackID string) ([]byte, error) {
	return encode(RemovePayload{TrackID: trackID})
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Apply decodes and applies a single committed log entry. Decoding
// failures are reported to the caller (which logs and skips per the
// error-handling design) rather than panicking; lastApplied still
// advances regardless of the outcome.
func (m *MusicQueue) Apply(entry raftlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch entry.Command {
	case raftlog.CommandAdd:
		var p AddPayload
		if err := gob.NewDecoder(bytes.NewReader(entry.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode ADD payload at index %d: %w", entry.Index, err)
		}
		m.applyAdd(p.Track)
		m.recordHistory(entry, p.Track.ID)
	case raftlog.CommandRemove:
		var p RemovePayload
		if err := gob.NewDecoder(bytes.NewReader(entry.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode REMOVE payload at index %d: %w", entry.Index, err)
		}
		m.applyRemove(p.TrackID)
		m.recordHistory(entry, p.TrackID)
	case raftlog.CommandNoop:
		// no-op entries carry no FSM-visible effect.
	default:
		return fmt.Errorf("unknown command kind %v at index %d", entry.Command, entry.Index)
	}
	return nil
}

func (m *MusicQueue) applyAdd(t Track) {
	if _, exists := m.byID[t.ID]; exists {
		return
	}
	m.byID[t.ID] = t
	m.order = append(m.order, t.ID)
}

func (m *MusicQueue) applyRemove(id string) {
	if _, exists := m.byID[id]; !exists {
		return
	}
	delete(m.byID, id)
	for i, existingID := range m.order {
		if existingID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *MusicQueue) recordHistory(entry raftlog.Entry, trackID string) {
	m.history = append(m.history, AppliedRecord{
		Index:   entry.Index,
		Term:    entry.Term,
		Command: entry.Command,
		TrackID: trackID,
	})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// Snapshot returns the current ordered view of the queue. Reads need
// not reflect in-flight proposals: this always returns exactly what
// has been applied so far.
func (m *MusicQueue) Snapshot() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Track, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// History returns the bounded list of most-recently applied commands,
// oldest first.
func (m *MusicQueue) History() []AppliedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AppliedRecord, len(m.history))
	copy(out, m.history)
	return out
}
