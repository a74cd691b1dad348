package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/todosync/pkg/checkpoint"
)

// Label describes one checkpoint change: short hash, version and list sizes.
func Label(doc *automerge.Doc, hash automerge.ChangeHash) (string, error) {
	docAt, err := doc.Fork(hash)
	if err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", hash, err)
	}
	short := hash.String()[:8]
	snap, version, err := checkpoint.ReadSnapshot(docAt)
	if err != nil {
		return short + " (empty)", nil
	}
	return fmt.Sprintf("%s v%d live=%d finished=%d", short, version, len(snap.Live), len(snap.Finished)), nil
}

// RenderHistory writes the checkpoint history of doc as SVG to w.
func RenderHistory(doc *automerge.Doc, w io.Writer) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		label, err := Label(doc, change.Hash())
		if err != nil {
			return err
		}
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label)
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := w.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// RenderHistoryToFile is RenderHistory into a new file at outputPath.
func RenderHistoryToFile(doc *automerge.Doc, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer f.Close()
	return RenderHistory(doc, f)
}
