package detector

import (
	"context"
	"sort"
	"strings"

	"github.com/thebtf/recall/pkg/models"
)

// maxClusterFiles caps a cluster description so one sprawling refactor does
// not mint an unmatchable pattern.
const maxClusterFiles = 6

// FileCluster groups files that are edited together. Co-occurrence within a
// turn, and across the turns of one batch, feeds the cluster's frequency.
type FileCluster struct{}

// Name implements Detector.
func (d *FileCluster) Name() string { return "file_cluster" }

// Detect emits one cluster per conversation touching two or more files,
// plus a batch-level cluster when several conversations touch files inside
// the same window.
func (d *FileCluster) Detect(_ context.Context, in Input) (Result, error) {
	var res Result

	batchFiles := make(map[string]struct{})
	touching := 0
	for _, c := range in.Conversations {
		if len(c.FilesInvolved) > 0 {
			touching++
		}
		for _, f := range c.FilesInvolved {
			batchFiles[f] = struct{}{}
		}
		if p := clusterPattern(in, c.FilesInvolved); p != nil {
			res.Patterns = append(res.Patterns, p)
		}
	}

	// Files split across turns still cluster when the turns share a batch.
	if touching >= 2 {
		all := make([]string, 0, len(batchFiles))
		for f := range batchFiles {
			all = append(all, f)
		}
		if p := clusterPattern(in, all); p != nil {
			res.Patterns = append(res.Patterns, p)
		}
	}
	return res, nil
}

// clusterPattern builds a pattern from a file set, or nil when the set is
// too small or too large to be a meaningful cluster.
func clusterPattern(in Input, files []string) *models.DetectedPattern {
	distinct := make(map[string]struct{}, len(files))
	for _, f := range files {
		distinct[f] = struct{}{}
	}
	if len(distinct) < 2 || len(distinct) > maxClusterFiles {
		return nil
	}
	sorted := make([]string, 0, len(distinct))
	for f := range distinct {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)
	return models.NewDetectedPattern(
		in.FolderID, in.SessionID, models.PatternFileCluster,
		strings.Join(sorted, " + "),
		models.JSONMetadata{"files": sorted},
	)
}
