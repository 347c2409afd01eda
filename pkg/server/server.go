// Package server exposes boards over HTTP: snapshot queries, typed mutations,
// a websocket snapshot feed and automerge replication between servers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/automerge-whiteboard/pkg/replica"
	"github.com/astromechza/automerge-whiteboard/pkg/store"
	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

const maxMutationBytes = 1 << 20

type Options struct {
	Logger *slog.Logger
	// ReplicaInterval is passed to replica sessions served on /replicate.
	ReplicaInterval time.Duration
	// WriteTimeout bounds each websocket write on the subscribe feed.
	WriteTimeout time.Duration
}

type Server struct {
	store    *store.Store
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func New(st *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReplicaInterval <= 0 {
		opts.ReplicaInterval = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Server{
		store:  st,
		logger: opts.Logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.getHealth)
	b := r.PathPrefix("/boards/{board:[A-Za-z0-9_-]+}").Subrouter()
	b.Methods(http.MethodGet).Path("/paths").HandlerFunc(s.getPaths)
	b.Methods(http.MethodPost).Path("/mutations").HandlerFunc(s.postMutation)
	b.Methods(http.MethodGet).Path("/subscribe").HandlerFunc(s.subscribe)
	b.Methods(http.MethodGet).Path("/latest").HandlerFunc(s.getLatest)
	b.Methods(http.MethodGet).Path("/replicate").HandlerFunc(s.replicate)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) writeError(writer http.ResponseWriter, status int, err error) {
	s.writeJSON(writer, status, errorResponse{Error: err.Error()})
}

func (s *Server) board(writer http.ResponseWriter, request *http.Request) (*store.Board, bool) {
	id := mux.Vars(request)["board"]
	if !store.ValidBoardID(id) {
		s.writeError(writer, http.StatusBadRequest, fmt.Errorf("invalid board id %q", id))
		return nil, false
	}
	b, err := s.store.Board(request.Context(), id)
	if err != nil {
		s.logger.Error("failed to load board", "err", err)
		s.writeError(writer, http.StatusInternalServerError, err)
		return nil, false
	}
	return b, true
}

func (s *Server) getHealth(writer http.ResponseWriter, _ *http.Request) {
	s.writeJSON(writer, http.StatusOK, map[string]any{"status": "ok", "boards": len(s.store.BoardIDs())})
}

func (s *Server) getPaths(writer http.ResponseWriter, request *http.Request) {
	b, ok := s.board(writer, request)
	if !ok {
		return
	}
	snap, err := b.Snapshot()
	if err != nil {
		s.writeError(writer, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, snap)
}

func (s *Server) postMutation(writer http.ResponseWriter, request *http.Request) {
	b, ok := s.board(writer, request)
	if !ok {
		return
	}
	var m syncer.Mutation
	dec := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxMutationBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		s.writeError(writer, http.StatusBadRequest, fmt.Errorf("failed to decode mutation: %w", err))
		return
	}
	if err := b.Apply(m); err != nil {
		switch {
		case errors.Is(err, syncer.ErrInvalidMutation):
			s.writeError(writer, http.StatusBadRequest, err)
		case errors.Is(err, store.ErrPathNotFound):
			s.writeError(writer, http.StatusNotFound, err)
		default:
			s.logger.Error("failed to apply mutation", "board", b.ID(), "kind", m.Kind, "err", err)
			s.writeError(writer, http.StatusInternalServerError, err)
		}
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// subscribe streams the board's snapshots as JSON text frames, starting with
// the current state. Intermediate snapshots are skipped when the client is
// slower than the changes.
func (s *Server) subscribe(writer http.ResponseWriter, request *http.Request) {
	b, ok := s.board(writer, request)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	snapshots, cancel, err := b.Watch()
	if err != nil {
		s.logger.Error("failed to watch", "board", b.ID(), "err", err)
		return
	}
	defer cancel()

	ctx, stop := context.WithCancel(request.Context())
	defer stop()
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap := <-snapshots:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Error("failed to write snapshot", "board", b.ID(), "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	b, ok := s.board(writer, request)
	if !ok {
		return
	}
	fork, err := b.Fork()
	if err != nil {
		s.logger.Error("failed to fork", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(fork.Save()); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) replicate(writer http.ResponseWriter, request *http.Request) {
	b, ok := s.board(writer, request)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	if err := replica.Sync(request.Context(), conn, b, replica.Options{
		Interval: s.opts.ReplicaInterval,
		Logger:   s.logger,
	}); err != nil {
		s.logger.Error("failed to sync", "board", b.ID(), "err", err)
	}
}
