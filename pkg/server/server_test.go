package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/replica"
	"github.com/astromechza/automerge-whiteboard/pkg/store"
	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "server.sqlite3"), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(New(st, Options{ReplicaInterval: 20 * time.Millisecond}).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = st.Close(context.Background())
	})
	return srv, st
}

func record(id, color string) *board.Record {
	p := board.NewPathWithID(id, color)
	p.MoveTo(10, 10)
	p.LineTo(20, 30)
	r := p.Record()
	return &r
}

func post(t *testing.T, srv *httptest.Server, boardID string, body any) *http.Response {
	t.Helper()
	raw, ok := body.(string)
	if !ok {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		raw = string(encoded)
	}
	resp, err := http.Post(srv.URL+"/boards/"+boardID+"/mutations", "application/json", strings.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getSnapshot(t *testing.T, srv *httptest.Server, boardID string) syncer.Snapshot {
	t.Helper()
	resp, err := http.Get(srv.URL + "/boards/" + boardID + "/paths")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap syncer.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","boards":1}`, string(body))
}

func TestMutationsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("a", "red")}).StatusCode)
	assert.Equal(t, http.StatusNoContent, post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("b", "blue")}).StatusCode)
	assert.Equal(t, http.StatusNoContent, post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationUpdate, Record: record("a", "green")}).StatusCode)

	snap := getSnapshot(t, srv, "team")
	require.Len(t, snap.Paths, 2)
	assert.Equal(t, *record("a", "green"), snap.Paths[0])
	assert.Equal(t, "b", snap.Paths[1].ID)

	assert.Equal(t, http.StatusNoContent, post(t, srv, "team", syncer.DeletePath("b")).StatusCode)
	assert.Len(t, getSnapshot(t, srv, "team").Paths, 1)

	assert.Equal(t, http.StatusNoContent, post(t, srv, "team", syncer.DeleteAll()).StatusCode)
	assert.Empty(t, getSnapshot(t, srv, "team").Paths)
	assert.Empty(t, getSnapshot(t, srv, store.DefaultBoard).Paths)
}

func TestMutationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, "team", `{"kind":"add"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "team", `{"kind":"add","record":{"id":"a","color":"red","polyline":"??"},"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationDelete})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationUpdate, Record: record("ghost", "red")})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "ghost")

	resp = post(t, srv, "not.valid", syncer.DeleteAll())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOverlongBoardIDIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, strings.Repeat("a", 65), syncer.DeleteAll())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid board id")

	getResp, err := http.Get(srv.URL + "/boards/" + strings.Repeat("b", 65) + "/paths")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, getResp.StatusCode)

	resp = post(t, srv, strings.Repeat("a", 64), syncer.DeleteAll())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSubscribeSendsCurrentStateThenChanges(t *testing.T) {
	srv, _ := newTestServer(t)
	post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("a", "red")})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/boards/team/subscribe"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first syncer.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	require.Len(t, first.Paths, 1)

	post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("b", "red")})
	var second syncer.Snapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Len(t, second.Paths, 2)
	assert.Greater(t, second.Version, first.Version)
}

func TestLatestReturnsLoadableDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	post(t, srv, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("a", "red")})

	resp, err := http.Get(srv.URL + "/boards/team/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	doc, err := automerge.Load(raw)
	require.NoError(t, err)
	keys, err := doc.RootMap().Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"path:a"}, keys)
}

func TestReplicateBetweenServers(t *testing.T) {
	left, _ := newTestServer(t)
	right, rightStore := newTestServer(t)
	post(t, left, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("l", "red")})
	post(t, right, "team", syncer.Mutation{Kind: syncer.MutationAdd, Record: record("r", "blue")})

	rightBoard, err := rightStore.Board(context.Background(), "team")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- replica.Dial(ctx, wsURL(left, "/boards/team/replicate"), rightBoard, replica.Options{Interval: 20 * time.Millisecond})
	}()

	converged := func(srv *httptest.Server) bool {
		return len(getSnapshot(t, srv, "team").Paths) == 2
	}
	require.Eventually(t, func() bool { return converged(left) && converged(right) }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("replication did not stop")
	}
}

func TestRequestLogging(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "log.sqlite3"), nil)
	require.NoError(t, err)
	defer st.Close(context.Background())

	var buf bytes.Buffer
	logger := newTextLogger(&buf)
	h := New(st, Options{Logger: logger}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), "msg=handled")
	assert.Contains(t, buf.String(), "status=200")
}

func newTextLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}
