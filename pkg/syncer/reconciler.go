// Package syncer bridges a drawing surface and a remote collaborator: local
// edits become typed mutations, remote snapshots replace the confirmed set.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/surface"
	"github.com/astromechza/automerge-whiteboard/pkg/throttle"
)

const (
	DefaultUpdateInterval = 600 * time.Millisecond
	DefaultWriteTimeout   = 10 * time.Second
)

// Surface is the part of *surface.Surface the reconciler drives.
type Surface interface {
	SetPaths(paths []*board.Path)
	Clear()
	Drafts() []*board.Path
	Observe(o surface.Observer) func()
}

type Config struct {
	Selection Selection
	// UpdateInterval is the per-path window in which recolor updates are
	// coalesced into one write.
	UpdateInterval time.Duration
	WriteTimeout   time.Duration
	// OptimisticClear clears the local surface as soon as ClearAll is called
	// instead of waiting for the empty snapshot.
	OptimisticClear bool
	Clock           throttle.Clock
	Logger          *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Selection:      Selection{Board: "default"},
		UpdateInterval: DefaultUpdateInterval,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

type Reconciler struct {
	collab  Collaborator
	surface Surface
	cfg     Config
	logger  *slog.Logger

	updates *throttle.Coalescer[string, board.Record]
	outbox  *outbox

	applyMu     sync.Mutex
	applied     bool
	lastVersion uint64

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	sub       Subscription
	unobserve func()
	writerWg  sync.WaitGroup
	feedWg    sync.WaitGroup
}

var _ surface.Observer = (*Reconciler)(nil)

func New(collab Collaborator, s Surface, cfg Config) *Reconciler {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = throttle.SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Reconciler{
		collab:  collab,
		surface: s,
		cfg:     cfg,
		logger:  cfg.Logger.With("board", cfg.Selection.Board),
		outbox:  newOutbox(),
	}
	r.updates = throttle.NewCoalescer(cfg.UpdateInterval, func(_ string, rec board.Record) {
		r.enqueue(Mutation{Kind: MutationUpdate, Record: &rec})
	}, throttle.WithClock(cfg.Clock))
	return r
}

// Start observes the surface, queues drafts it already holds, subscribes to
// the remote feed, then fetches and applies the current snapshot, in that
// order. Snapshots pushed before the query returns are kept unless the query
// result is newer. Edits made before Start are written once the outbox drains.
func (r *Reconciler) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.started {
		return errors.New("reconciler already started")
	}

	// a draft committed between Observe and Drafts is queued twice; adds are upserts
	unobserve := r.surface.Observe(r)
	drafts := r.surface.Drafts()
	for _, p := range drafts {
		r.enqueue(AddPath(p))
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	sub, err := r.collab.Subscribe(r.ctx, r.cfg.Selection, r.applySnapshot)
	if err != nil {
		unobserve()
		r.cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	snap, err := r.collab.Query(ctx, r.cfg.Selection)
	if err != nil {
		unobserve()
		_ = sub.Close()
		r.cancel()
		return fmt.Errorf("failed to query: %w", err)
	}
	r.applySnapshot(snap)

	r.sub = sub
	r.unobserve = unobserve
	r.started = true

	r.feedWg.Add(1)
	go func() {
		defer r.feedWg.Done()
		r.watchFeed(sub)
	}()
	r.writerWg.Add(1)
	go func() {
		defer r.writerWg.Done()
		r.drainOutbox()
	}()
	r.logger.Info("reconciler started", "paths", len(snap.Paths), "drafts", len(drafts), "version", snap.Version)
	return nil
}

// Stop detaches from the surface, sends any coalesced updates, waits for the
// outbox to drain and closes the subscription.
func (r *Reconciler) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if !r.started || r.stopped {
		return nil
	}
	r.stopped = true

	r.unobserve()
	r.updates.Flush()
	r.outbox.close()
	r.writerWg.Wait()

	err := r.sub.Close()
	r.cancel()
	r.feedWg.Wait()
	r.logger.Info("reconciler stopped")
	if err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}

// ClearAll asks the remote side to delete every path on the board.
func (r *Reconciler) ClearAll() {
	r.updates.CancelAll()
	r.enqueue(DeleteAll())
	if r.cfg.OptimisticClear {
		r.surface.Clear()
	}
}

func (r *Reconciler) PathDrawn(p *board.Path) {
	r.enqueue(AddPath(p))
}

func (r *Reconciler) PathChanged(p *board.Path) {
	r.updates.Push(p.ID, p.Record())
}

func (r *Reconciler) PathDeleted(p *board.Path) {
	r.updates.Cancel(p.ID)
	r.enqueue(DeletePath(p.ID))
}

func (r *Reconciler) enqueue(m Mutation) {
	if err := m.Validate(); err != nil {
		r.logger.Error("dropping mutation", "kind", m.Kind, "path", m.PathID(), "err", err)
		return
	}
	if !r.outbox.push(m) {
		r.logger.Warn("reconciler stopped, dropping mutation", "kind", m.Kind, "path", m.PathID())
	}
}

func (r *Reconciler) drainOutbox() {
	for {
		batch, closed := r.outbox.take()
		for _, m := range batch {
			r.write(m)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.outbox.wake
	}
}

func (r *Reconciler) write(m Mutation) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.WriteTimeout)
	defer cancel()
	if err := r.collab.Mutate(ctx, r.cfg.Selection, m); err != nil {
		var writeErr *RemoteWriteError
		if !errors.As(err, &writeErr) {
			err = &RemoteWriteError{Mutation: m, Err: err}
		}
		r.logger.Error("remote write failed", "kind", m.Kind, "path", m.PathID(), "err", err)
		return
	}
	r.logger.Debug("remote write", "kind", m.Kind, "path", m.PathID())
}

func (r *Reconciler) watchFeed(sub Subscription) {
	for {
		select {
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			var feedErr *RemoteFeedError
			if !errors.As(err, &feedErr) {
				err = &RemoteFeedError{Err: err}
			}
			r.logger.Error("remote feed failed", "err", err)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reconciler) applySnapshot(snap Snapshot) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	if r.applied && snap.Version != 0 && snap.Version < r.lastVersion {
		r.logger.Debug("dropping stale snapshot", "version", snap.Version, "applied", r.lastVersion)
		return
	}

	paths := make([]*board.Path, 0, len(snap.Paths))
	for _, rec := range snap.Paths {
		p, err := board.FromRecord(rec)
		if err != nil {
			r.logger.Warn("skipping undecodable path", "path", rec.ID, "err", err)
			continue
		}
		paths = append(paths, p)
	}
	r.surface.SetPaths(paths)

	r.applied = true
	if snap.Version > r.lastVersion {
		r.lastVersion = snap.Version
	}
}

// LastVersion is the highest snapshot version applied so far.
func (r *Reconciler) LastVersion() uint64 {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.lastVersion
}
