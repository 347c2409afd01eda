// Package viz renders the change history of a board document as a graph.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/automerge-whiteboard/pkg/store"
)

// Label describes one change: short hash, actor@seq and the number of paths
// on the board once the change is applied.
func Label(doc *automerge.Doc, change *automerge.Change) (string, error) {
	at, err := doc.Fork(change.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
	}
	ids, err := store.PathIDs(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s@%d %d paths", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), len(ids)), nil
}

// RenderBoardHistory writes the change graph of doc as svg.
func RenderBoardHistory(doc *automerge.Doc, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodes := make(map[string]*cgraph.Node, len(changes))
	edges := 0
	for _, change := range changes {
		label, err := Label(doc, change)
		if err != nil {
			return err
		}
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label)
		nodes[change.Hash().String()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodes[hash.String()]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	_, err = w.Write(buff.Bytes())
	return err
}

func RenderToFile(doc *automerge.Doc, outputPath string) error {
	var buff bytes.Buffer
	if err := RenderBoardHistory(doc, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

func RenderToTemp(doc *automerge.Doc) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderToFile(doc, tf); err != nil {
		return "", err
	}
	return tf, nil
}
