// Package falkor mirrors file co-edit relationships into a FalkorDB graph.
// The mirror is strictly best effort: a missing or unreachable graph never
// blocks or fails capture, it only costs the extra edges.
package falkor

import (
	falkordb "github.com/FalkorDB/falkordb-go/v2"
	"github.com/rs/zerolog/log"
)

const graphName = "recall"

// Mirror writes co-edit edges for files touched in the same turn. A nil
// Mirror is valid and drops everything.
type Mirror struct {
	graph *falkordb.Graph
}

// New connects to FalkorDB at addr. An empty addr disables the mirror and
// returns nil without error.
func New(addr string) (*Mirror, error) {
	if addr == "" {
		return nil, nil
	}
	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{Addr: addr})
	if err != nil {
		return nil, err
	}
	return &Mirror{graph: db.SelectGraph(graphName)}, nil
}

// RecordCoEdits merges a File node per path and bumps the CO_EDITED edge
// weight for every pair. Pairs are ordered so the same two files always hit
// the same edge. Failures are logged and swallowed.
func (m *Mirror) RecordCoEdits(folderID string, files []string) {
	if m == nil || len(files) < 2 {
		return
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			a, b := files[i], files[j]
			if a > b {
				a, b = b, a
			}
			_, err := m.graph.Query(
				`MERGE (a:File {path: $a, folder: $folder})
				 MERGE (b:File {path: $b, folder: $folder})
				 MERGE (a)-[r:CO_EDITED]->(b)
				 ON CREATE SET r.weight = 1
				 ON MATCH SET r.weight = r.weight + 1`,
				map[string]interface{}{"a": a, "b": b, "folder": folderID},
				nil,
			)
			if err != nil {
				log.Warn().Err(err).Str("folder_id", folderID).Msg("Graph mirror write failed, skipping batch")
				return
			}
		}
	}
}
