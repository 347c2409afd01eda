package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

// Each path lives under its own root key so that replicas which never shared
// history can still merge without one container shadowing another.
const pathKeyPrefix = "path:"

var ErrPathNotFound = errors.New("path not found")

// Board is one shared whiteboard held as an automerge document.
type Board struct {
	id string

	mu       sync.Mutex
	doc      *automerge.Doc
	version  uint64
	watchers map[*watcher]struct{}
}

type watcher struct {
	ch chan syncer.Snapshot
}

func newBoard(id string, doc *automerge.Doc) *Board {
	return &Board{
		id:       id,
		doc:      doc,
		version:  uint64(time.Now().UnixNano()),
		watchers: make(map[*watcher]struct{}),
	}
}

func (b *Board) ID() string {
	return b.id
}

// Snapshot returns the current paths in creation order.
func (b *Board) Snapshot() (syncer.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

type storedPath struct {
	record  board.Record
	created int64
}

func (b *Board) snapshotLocked() (syncer.Snapshot, error) {
	keys, err := b.doc.RootMap().Keys()
	if err != nil {
		return syncer.Snapshot{}, fmt.Errorf("failed to list keys: %w", err)
	}
	stored := make([]storedPath, 0, len(keys))
	for _, key := range keys {
		id, ok := strings.CutPrefix(key, pathKeyPrefix)
		if !ok {
			continue
		}
		value, err := b.doc.Path(key).Get()
		if err != nil {
			return syncer.Snapshot{}, fmt.Errorf("failed to read %s: %w", key, err)
		}
		fields, ok := value.Interface().(map[string]any)
		if !ok {
			continue
		}
		sp := storedPath{record: board.Record{ID: id}}
		sp.record.Color, _ = fields["color"].(string)
		sp.record.Polyline, _ = fields["polyline"].(string)
		sp.created, _ = fields["created"].(int64)
		stored = append(stored, sp)
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].created != stored[j].created {
			return stored[i].created < stored[j].created
		}
		return stored[i].record.ID < stored[j].record.ID
	})

	out := syncer.Snapshot{Version: b.version, Paths: make([]board.Record, 0, len(stored))}
	for _, sp := range stored {
		out.Paths = append(out.Paths, sp.record)
	}
	return out, nil
}

// Apply validates and commits one mutation, then notifies watchers.
func (b *Board) Apply(m syncer.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	changed, err := b.applyLocked(m)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if _, err := b.doc.Commit(fmt.Sprintf("%s %s", m.Kind, m.PathID())); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	b.changedLocked()
	return nil
}

// PathIDs lists the path ids held in a board document in key order.
func PathIDs(doc *automerge.Doc) ([]string, error) {
	keys, err := doc.RootMap().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := strings.CutPrefix(key, pathKeyPrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (b *Board) exists(key string) (bool, error) {
	value, err := b.doc.Path(key).Get()
	if err != nil {
		return false, err
	}
	return value.Kind() != automerge.KindVoid, nil
}

func (b *Board) applyLocked(m syncer.Mutation) (bool, error) {
	switch m.Kind {
	case syncer.MutationAdd:
		key := pathKeyPrefix + m.Record.ID
		found, err := b.exists(key)
		if err != nil {
			return false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if found {
			return b.updateLocked(key, m.Record)
		}
		if err := b.doc.Path(key).Set(map[string]any{
			"color":    m.Record.Color,
			"polyline": m.Record.Polyline,
			"created":  time.Now().UnixNano(),
		}); err != nil {
			return false, fmt.Errorf("failed to add %s: %w", key, err)
		}
		return true, nil
	case syncer.MutationUpdate:
		key := pathKeyPrefix + m.Record.ID
		found, err := b.exists(key)
		if err != nil {
			return false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if !found {
			return false, fmt.Errorf("%w: %s", ErrPathNotFound, m.Record.ID)
		}
		return b.updateLocked(key, m.Record)
	case syncer.MutationDelete:
		key := pathKeyPrefix + m.ID
		found, err := b.exists(key)
		if err != nil || !found {
			return false, err
		}
		if err := b.doc.Path(key).Delete(); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return true, nil
	case syncer.MutationDeleteAll:
		keys, err := b.doc.RootMap().Keys()
		if err != nil {
			return false, fmt.Errorf("failed to list keys: %w", err)
		}
		changed := false
		for _, key := range keys {
			if !strings.HasPrefix(key, pathKeyPrefix) {
				continue
			}
			if err := b.doc.Path(key).Delete(); err != nil {
				return false, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			changed = true
		}
		return changed, nil
	}
	return false, fmt.Errorf("%w: unknown kind %q", syncer.ErrInvalidMutation, m.Kind)
}

func (b *Board) updateLocked(key string, r *board.Record) (bool, error) {
	if err := b.doc.Path(key, "color").Set(r.Color); err != nil {
		return false, fmt.Errorf("failed to set color of %s: %w", key, err)
	}
	if err := b.doc.Path(key, "polyline").Set(r.Polyline); err != nil {
		return false, fmt.Errorf("failed to set polyline of %s: %w", key, err)
	}
	return true, nil
}

// changedLocked bumps the version and pushes the new state to every watcher,
// replacing any snapshot the watcher has not consumed yet.
func (b *Board) changedLocked() {
	b.version++
	if len(b.watchers) == 0 {
		return
	}
	snap, err := b.snapshotLocked()
	if err != nil {
		return
	}
	for w := range b.watchers {
		select {
		case w.ch <- snap:
		default:
			select {
			case <-w.ch:
			default:
			}
			w.ch <- snap
		}
	}
}

// Watch returns a channel that always holds the most recent unread snapshot,
// starting with the current one. The cancel func must be called to release it.
func (b *Board) Watch() (<-chan syncer.Snapshot, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := b.snapshotLocked()
	if err != nil {
		return nil, nil, err
	}
	w := &watcher{ch: make(chan syncer.Snapshot, 1)}
	w.ch <- snap
	b.watchers[w] = struct{}{}
	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.watchers, w)
		})
	}, nil
}

// Save serialises the whole document.
func (b *Board) Save() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Save()
}

// Fork returns an independent copy of the document at its current heads.
func (b *Board) Fork() (*automerge.Doc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Fork()
}

func (b *Board) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// NewSyncState starts a sync session with one remote peer.
func (b *Board) NewSyncState() *automerge.SyncState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return automerge.NewSyncState(b.doc)
}

// ReceiveSyncMessage applies a message from the peer behind ss and notifies
// watchers if it brought new changes.
func (b *Board) ReceiveSyncMessage(ss *automerge.SyncState, msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := b.doc.Heads()
	if _, err := ss.ReceiveMessage(msg); err != nil {
		return fmt.Errorf("failed to receive message: %w", err)
	}
	if !sameHeads(before, b.doc.Heads()) {
		b.changedLocked()
	}
	return nil
}

// GenerateSyncMessage returns the next message for the peer behind ss, or nil
// when there is nothing to send. more reports whether another call may yield
// a further message.
func (b *Board) GenerateSyncMessage(ss *automerge.SyncState) (msg []byte, more bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, valid := ss.GenerateMessage()
	if m == nil {
		return nil, false
	}
	return m.Bytes(), valid
}

func sameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[automerge.ChangeHash]struct{}, len(a))
	for _, h := range a {
		seen[h] = struct{}{}
	}
	for _, h := range b {
		if _, ok := seen[h]; !ok {
			return false
		}
	}
	return true
}
