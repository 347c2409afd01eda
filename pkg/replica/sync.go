// Package replica runs the automerge sync protocol between two copies of a
// board over a websocket.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Document is a board that can take part in a sync session. Calls must be
// safe to make from the reader and writer goroutines at once.
type Document interface {
	NewSyncState() *automerge.SyncState
	ReceiveSyncMessage(ss *automerge.SyncState, msg []byte) error
	GenerateSyncMessage(ss *automerge.SyncState) (msg []byte, more bool)
}

type Options struct {
	// Interval is how often outstanding changes are offered to the peer when
	// nothing has been received.
	Interval time.Duration
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func readAndReceiveMessage(conn *websocket.Conn, doc Document, ss *automerge.SyncState) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.BinaryMessage:
		if err := doc.ReceiveSyncMessage(ss, p); err != nil {
			return err
		}
	default:
	}
	return nil
}

func generateAndWriteMessages(conn *websocket.Conn, doc Document, ss *automerge.SyncState) error {
	for {
		msg, more := doc.GenerateSyncMessage(ss)
		if msg == nil {
			return nil
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if !more {
			return nil
		}
	}
}

// Sync exchanges changes with the peer on conn until ctx ends or either side
// closes the connection. A clean shutdown returns nil.
func Sync(ctx context.Context, conn *websocket.Conn, doc Document, opts Options) error {
	opts = opts.withDefaults()
	ss := doc.NewSyncState()
	received := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			if err := readAndReceiveMessage(conn, doc, ss); err != nil {
				return err
			}
			select {
			case received <- struct{}{}:
			default:
			}
		}
	})
	g.Go(func() error {
		t := time.NewTicker(opts.Interval)
		defer t.Stop()
		for {
			if err := generateAndWriteMessages(conn, doc, ss); err != nil {
				return err
			}
			select {
			case <-t.C:
			case <-received:
			case <-gctx.Done():
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	err := g.Wait()
	if err == nil || ctx.Err() != nil || websocket.IsCloseError(errors.Unwrap(err), websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

// Dial connects to a replicate endpoint and syncs doc with it until ctx ends
// or the connection drops.
func Dial(ctx context.Context, url string, doc Document, opts Options) error {
	opts = opts.withDefaults()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer conn.Close()
	opts.Logger.Info("syncing", "peer", url)
	return Sync(ctx, conn, doc, opts)
}

// Replicate keeps a sync session with url alive, redialling after failures,
// until ctx ends.
func Replicate(ctx context.Context, url string, doc Document, retry time.Duration, opts Options) {
	opts = opts.withDefaults()
	for {
		if err := Dial(ctx, url, doc, opts); err != nil {
			opts.Logger.Error("replication failed", "peer", url, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
