package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astromechza/automerge-whiteboard/pkg/config"
	"github.com/astromechza/automerge-whiteboard/pkg/discovery"
	"github.com/astromechza/automerge-whiteboard/pkg/logging"
	"github.com/astromechza/automerge-whiteboard/pkg/replica"
	"github.com/astromechza/automerge-whiteboard/pkg/server"
	"github.com/astromechza/automerge-whiteboard/pkg/store"
	"github.com/astromechza/automerge-whiteboard/pkg/viz"
)

const replicaRetry = 5 * time.Second

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "an optional yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on")
	dbVar := flag.String("db", "", "the sqlite database to back boards up to")
	advertiseVar := flag.Bool("advertise", false, "advertise the server over mDNS")
	dumpVar := flag.String("dump-dir", "", "write document saves and history svgs here on shutdown")
	logLevelVar := flag.String("log-level", "", "debug, info, warn or error")
	var peers []string
	flag.Func("peer", "base url of a server to replicate boards with (repeatable)", func(s string) error {
		peers = append(peers, s)
		return nil
	})
	flag.Parse()

	cfg := config.Default()
	if *configVar != "" {
		var err error
		if cfg, err = config.Load(*configVar); err != nil {
			return err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addrVar
		case "db":
			cfg.Server.Database = *dbVar
		case "advertise":
			cfg.Server.Advertise = *advertiseVar
		case "dump-dir":
			cfg.Server.DumpDir = *dumpVar
		case "log-level":
			cfg.Log.Level = *logLevelVar
		case "peer":
			cfg.Server.Peers = peers
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Logging())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Opening database", "path", cfg.Server.Database)
	st, err := store.Open(ctx, cfg.Server.Database, logger)
	if err != nil {
		return err
	}

	jobs, err := replicationJobs(ctx, st, cfg.Server)
	if err != nil {
		_ = st.Close(context.Background())
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = st.Close(context.Background())
		return fmt.Errorf("failed to listen: %w", err)
	}
	slog.Info("listening", "addr", listener.Addr().String())

	httpServer := &http.Server{
		Handler: server.New(st, server.Options{
			Logger:          logger,
			ReplicaInterval: cfg.Server.ReplicaInterval,
		}).Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return httpServer.Close()
		}
		return nil
	})
	g.Go(func() error {
		st.RunBackups(gctx, cfg.Server.BackupInterval)
		return nil
	})

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			replica.Replicate(gctx, job.target, job.board, replicaRetry, replica.Options{
				Interval: cfg.Server.ReplicaInterval,
				Logger:   logger.With("board", job.board.ID()),
			})
			return nil
		})
	}

	if cfg.Server.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise("", port, logger)
		if err != nil {
			slog.Error("failed to advertise", "err", err)
		} else {
			defer adv.Shutdown()
		}
	}

	<-gctx.Done()
	slog.Info("Shutting down")
	runErr := g.Wait()

	if err := st.Close(context.Background()); err != nil {
		slog.Error("failed to close store", "err", err)
	}
	if cfg.Server.DumpDir != "" {
		dump(st, cfg.Server.DumpDir)
	}
	return runErr
}

type replicationJob struct {
	target string
	board  *store.Board
}

// replicationJobs pairs every configured peer with every replicated board.
func replicationJobs(ctx context.Context, st *store.Store, cfg config.Server) ([]replicationJob, error) {
	var jobs []replicationJob
	for _, peer := range cfg.Peers {
		for _, boardID := range cfg.Boards {
			target, err := replicateURL(peer, boardID)
			if err != nil {
				return nil, err
			}
			b, err := st.Board(ctx, boardID)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, replicationJob{target: target, board: b})
		}
	}
	return jobs, nil
}

// replicateURL maps a peer base url to the websocket sync endpoint of a board.
func replicateURL(peer, boardID string) (string, error) {
	u, err := url.Parse(peer)
	if err != nil {
		return "", fmt.Errorf("invalid peer %q: %w", peer, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid peer %q: scheme must be http or https", peer)
	}
	if !store.ValidBoardID(boardID) {
		return "", fmt.Errorf("invalid board id %q", boardID)
	}
	return u.JoinPath("boards", boardID, "replicate").String(), nil
}

func dump(st *store.Store, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create dump dir", "dir", dir, "err", err)
		return
	}
	for _, id := range st.BoardIDs() {
		b, ok := st.Lookup(id)
		if !ok {
			continue
		}
		target := filepath.Join(dir, id+".automerge")
		if err := os.WriteFile(target, b.Save(), 0o644); err != nil {
			slog.Error("failed to dump", "board", id, "err", err)
			continue
		}
		slog.Info("dumped", "board", id, "path", target)

		doc, err := b.Fork()
		if err != nil {
			slog.Error("failed to fork", "board", id, "err", err)
			continue
		}
		svgPath := filepath.Join(dir, id+".svg")
		if err := viz.RenderToFile(doc, svgPath); err != nil {
			slog.Error("failed to render", "board", id, "err", err)
		} else {
			slog.Info("rendered", "board", id, "path", "file://"+svgPath)
		}
	}
}
