package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boards.sqlite3")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s, path
}

func rec(id, color string) *board.Record {
	p := board.NewPathWithID(id, color)
	p.MoveTo(1, 1)
	p.LineTo(2, 3)
	r := p.Record()
	return &r
}

func add(t *testing.T, b *Board, id, color string) {
	t.Helper()
	require.NoError(t, b.Apply(syncer.Mutation{Kind: syncer.MutationAdd, Record: rec(id, color)}))
}

func snapshotIDs(t *testing.T, b *Board) []string {
	t.Helper()
	snap, err := b.Snapshot()
	require.NoError(t, err)
	out := []string{}
	for _, r := range snap.Paths {
		out = append(out, r.ID)
	}
	return out
}

func TestOpenCreatesDefaultBoard(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Equal(t, []string{DefaultBoard}, s.BoardIDs())

	b, ok := s.Lookup(DefaultBoard)
	require.True(t, ok)
	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Paths)
	assert.NotZero(t, snap.Version)
}

func TestBoardRejectsInvalidIDs(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Board(context.Background(), "../etc")
	assert.Error(t, err)
	_, ok := s.Lookup("missing")
	assert.False(t, ok)
}

func TestApplyAddUpdateDelete(t *testing.T) {
	s, _ := openTestStore(t)
	b, err := s.Board(context.Background(), "team")
	require.NoError(t, err)
	v0 := b.Version()

	add(t, b, "z", "red")
	add(t, b, "a", "blue")
	assert.Equal(t, []string{"z", "a"}, snapshotIDs(t, b))
	assert.Equal(t, v0+2, b.Version())

	require.NoError(t, b.Apply(syncer.Mutation{Kind: syncer.MutationUpdate, Record: rec("z", "green")}))
	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "green", snap.Paths[0].Color)
	assert.Equal(t, rec("z", "green").Polyline, snap.Paths[0].Polyline)
	assert.Equal(t, []string{"z", "a"}, snapshotIDs(t, b))

	require.NoError(t, b.Apply(syncer.DeletePath("z")))
	assert.Equal(t, []string{"a"}, snapshotIDs(t, b))

	// deleting something that is gone is not a change
	version := b.Version()
	require.NoError(t, b.Apply(syncer.DeletePath("z")))
	assert.Equal(t, version, b.Version())
}

func TestApplyAddIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	b, _ := s.Lookup(DefaultBoard)
	add(t, b, "a", "red")
	add(t, b, "a", "blue")

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Paths, 1)
	assert.Equal(t, "blue", snap.Paths[0].Color)
}

func TestApplyErrors(t *testing.T) {
	s, _ := openTestStore(t)
	b, _ := s.Lookup(DefaultBoard)

	err := b.Apply(syncer.Mutation{Kind: syncer.MutationUpdate, Record: rec("ghost", "red")})
	assert.ErrorIs(t, err, ErrPathNotFound)

	err = b.Apply(syncer.Mutation{Kind: syncer.MutationDelete})
	assert.ErrorIs(t, err, syncer.ErrInvalidMutation)
}

func TestDeleteAll(t *testing.T) {
	s, _ := openTestStore(t)
	b, _ := s.Lookup(DefaultBoard)
	add(t, b, "a", "red")
	add(t, b, "b", "red")

	require.NoError(t, b.Apply(syncer.DeleteAll()))
	assert.Empty(t, snapshotIDs(t, b))
}

func TestWatchDeliversLatestSnapshot(t *testing.T) {
	s, _ := openTestStore(t)
	b, _ := s.Lookup(DefaultBoard)

	ch, cancel, err := b.Watch()
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Empty(t, first.Paths)

	add(t, b, "a", "red")
	add(t, b, "b", "red")
	latest := <-ch
	assert.Len(t, latest.Paths, 2)
	assert.Equal(t, b.Version(), latest.Version)
	assert.Greater(t, latest.Version, first.Version)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}

	cancel()
	add(t, b, "c", "red")
	assert.Empty(t, b.watchers)
}

func TestBackupSkipsUnchangedBoards(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	// the first pass may rewrite boards whose stored bytes differ from a fresh save
	_, err := s.Backup(ctx)
	require.NoError(t, err)
	n, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	b, err := s.Board(ctx, "team")
	require.NoError(t, err)
	add(t, b, "a", "red")
	n, err = s.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Close(ctx))

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close(ctx)
	assert.Equal(t, []string{DefaultBoard, "team"}, reopened.BoardIDs())
	team, ok := reopened.Lookup("team")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, snapshotIDs(t, team))
}

func syncBoards(t *testing.T, a, b *Board) {
	t.Helper()
	ssA, ssB := a.NewSyncState(), b.NewSyncState()
	for i := 0; i < 20; i++ {
		quiet := true
		if msg, _ := a.GenerateSyncMessage(ssA); msg != nil {
			require.NoError(t, b.ReceiveSyncMessage(ssB, msg))
			quiet = false
		}
		if msg, _ := b.GenerateSyncMessage(ssB); msg != nil {
			require.NoError(t, a.ReceiveSyncMessage(ssA, msg))
			quiet = false
		}
		if quiet {
			return
		}
	}
	t.Fatal("boards did not converge")
}

func TestSyncMergesIndependentBoards(t *testing.T) {
	left := newBoard("default", automerge.New())
	right := newBoard("default", automerge.New())
	add(t, left, "l", "red")
	add(t, right, "r", "blue")

	ch, cancel, err := right.Watch()
	require.NoError(t, err)
	defer cancel()
	<-ch

	syncBoards(t, left, right)

	assert.ElementsMatch(t, []string{"l", "r"}, snapshotIDs(t, left))
	assert.ElementsMatch(t, []string{"l", "r"}, snapshotIDs(t, right))
	pushed := <-ch
	assert.Len(t, pushed.Paths, 2)
}

func TestPathIDsIgnoresOtherKeys(t *testing.T) {
	s, _ := openTestStore(t)
	b, err := s.Board(context.Background(), "ids")
	require.NoError(t, err)
	add(t, b, "b", "red")
	add(t, b, "a", "red")

	doc, err := b.Fork()
	require.NoError(t, err)
	require.NoError(t, doc.Path("title").Set("not a path"))
	ids, err := PathIDs(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	empty, err := PathIDs(automerge.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
