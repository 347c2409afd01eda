package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

type subscription struct {
	client *Client
	conn   *websocket.Conn
	errs   chan error
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	stop   func() bool
}

func (s *subscription) Err() <-chan error {
	return s.errs
}

// Close ends the feed and waits for the reader to exit. It must not be called
// from inside the snapshot handler.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.stop()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
		<-s.done

		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()
	})
	return err
}

func (c *Client) websocketURL(sel syncer.Selection, parts ...string) string {
	u := c.boardURL(sel, parts...)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Subscribe opens the snapshot feed. The server sends the current state
// first, so handler sees at least one snapshot once the feed is healthy.
func (c *Client) Subscribe(ctx context.Context, sel syncer.Selection, handler func(syncer.Snapshot)) (syncer.Subscription, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, c.websocketURL(sel, "subscribe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	sub := &subscription{
		client: c,
		conn:   conn,
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	sub.stop = context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer close(sub.errs)
		for {
			var snap syncer.Snapshot
			if err := conn.ReadJSON(&snap); err != nil {
				if !sub.closed.Load() && ctx.Err() == nil {
					c.logger.Error("subscription ended", "board", sel.Board, "err", err)
					sub.errs <- &syncer.RemoteFeedError{Err: err}
				}
				return
			}
			handler(snap)
		}
	}()
	return sub, nil
}
