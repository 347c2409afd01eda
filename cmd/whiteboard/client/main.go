package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astromechza/automerge-whiteboard/pkg/config"
	"github.com/astromechza/automerge-whiteboard/pkg/discovery"
	"github.com/astromechza/automerge-whiteboard/pkg/export"
	"github.com/astromechza/automerge-whiteboard/pkg/logging"
	"github.com/astromechza/automerge-whiteboard/pkg/remote"
	"github.com/astromechza/automerge-whiteboard/pkg/surface"
	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "an optional yaml config file")
	serverVar := flag.String("server", "", "base url of the server, discovered over mDNS when empty")
	boardVar := flag.String("board", "", "the board to join")
	strokesVar := flag.Int("strokes", 0, "number of random actions to perform, 0 scribbles until interrupted")
	clearVar := flag.Bool("clear", false, "clear the board before exiting")
	optimisticVar := flag.Bool("optimistic-clear", false, "clear the local surface before the server confirms")
	pngVar := flag.String("png", "", "write the final board to this png file")
	pdfVar := flag.String("pdf", "", "write the final board to this pdf file")
	logLevelVar := flag.String("log-level", "", "debug, info, warn or error")
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
		case "server":
			cfg.Client.Server = *serverVar
		case "board":
			cfg.Client.Board = *boardVar
		case "strokes":
			cfg.Client.Strokes = *strokesVar
		case "clear":
			cfg.Client.ClearAfter = *clearVar
		case "optimistic-clear":
			cfg.Client.OptimisticClear = *optimisticVar
		case "png":
			cfg.Client.PNG = *pngVar
		case "pdf":
			cfg.Client.PDF = *pdfVar
		case "log-level":
			cfg.Log.Level = *logLevelVar
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

	serverURL := cfg.Client.Server
	if serverURL == "" {
		slog.Info("browsing for a server", "service", discovery.ServiceType)
		if serverURL, err = discovery.Browse(ctx, cfg.Client.DiscoveryTimeout); err != nil {
			return err
		}
		slog.Info("discovered server", "url", serverURL)
	}

	client, err := remote.New(serverURL, remote.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	raster := surface.NewRaster(cfg.Client.Width, cfg.Client.Height).WithBackground(color.White)
	surf := surface.New(raster, surface.Options{
		LineWidth:    cfg.Client.LineWidth,
		DrawingColor: cfg.Client.Color,
		Picker:       &randomPicker{rng: rng},
		Logger:       logger,
	})

	rcfg := syncer.DefaultConfig()
	rcfg.Selection = syncer.Selection{Board: cfg.Client.Board}
	rcfg.UpdateInterval = cfg.Client.UpdateInterval
	rcfg.OptimisticClear = cfg.Client.OptimisticClear
	rcfg.Logger = logger
	reconciler := syncer.New(client, surf, rcfg)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	slog.Info("joined board", "board", cfg.Client.Board, "paths", len(surf.Paths()))

	s := &scribbler{
		surface: surf,
		rng:     rng,
		width:   float64(cfg.Client.Width),
		height:  float64(cfg.Client.Height),
	}
	s.run(ctx, cfg.Client.Strokes, cfg.Client.StrokeDelay)

	if cfg.Client.ClearAfter {
		slog.Info("clearing board")
		reconciler.ClearAll()
	}
	if err := reconciler.Stop(); err != nil {
		slog.Error("failed to stop sync", "err", err)
	}

	opts := export.Options{
		Width:     cfg.Client.Width,
		Height:    cfg.Client.Height,
		LineWidth: cfg.Client.LineWidth,
	}
	visible := surf.Visible()
	if cfg.Client.PNG != "" {
		if err := export.SavePNG(cfg.Client.PNG, visible, opts); err != nil {
			return err
		}
		slog.Info("exported", "path", cfg.Client.PNG, "paths", len(visible))
	}
	if cfg.Client.PDF != "" {
		if err := export.SavePDF(cfg.Client.PDF, visible, opts); err != nil {
			return err
		}
		slog.Info("exported", "path", cfg.Client.PDF, "paths", len(visible))
	}
	return nil
}
