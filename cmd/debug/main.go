package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/automerge-whiteboard/pkg/logging"
	"github.com/astromechza/automerge-whiteboard/pkg/store"
	"github.com/astromechza/automerge-whiteboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	logger, err := logging.New(logging.Config{Format: logging.FormatConsole})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	boardVar := flag.String("board", store.DefaultBoard, "the board to fetch when reading from a server")
	svgVar := flag.String("svg", "", "also render the change history to this svg file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file or server url to read")
	}

	buff, err := readSource(context.Background(), flag.Arg(0), *boardVar)
	if err != nil {
		return err
	}
	doc, err := automerge.Load(buff)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}
	buff = nil
	ids, err := store.PathIDs(doc)
	if err != nil {
		return err
	}
	slog.Info("loaded doc", "paths", len(ids), "ids", ids)
	slog.Info("loaded heads", "heads", doc.Heads())

	if err := writeDigraph(os.Stdout, doc); err != nil {
		return err
	}

	if *svgVar != "" {
		if err := viz.RenderToFile(doc, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return nil
}

// readSource returns a saved document from a file or from the latest endpoint
// of a server.
func readSource(ctx context.Context, source, boardID string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		buff, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return buff, nil
	}
	base, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("boards", boardID, "latest").String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	buff, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from get: %w", err)
	}
	return buff, nil
}

// writeDigraph logs every change and prints the dependency graph in dot
// syntax, labelling each change with the path count after it.
func writeDigraph(w io.Writer, doc *automerge.Doc) error {
	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies())
	}

	fmt.Fprintln(w, `digraph "log" {`)
	for _, change := range changes {
		label, err := viz.Label(doc, change)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    \"%s\" [label=\"%s\"]\n", change.Hash(), label)
		for _, hash := range change.Dependencies() {
			fmt.Fprintf(w, "    \"%s\" -> \"%s\"\n", hash, change.Hash())
		}
	}
	fmt.Fprintln(w, "}")
	return nil
}
