package detector

import (
	"context"
	"strings"

	"github.com/thebtf/recall/pkg/models"
)

// SuccessSignal raises a conversation's success flag when its reply carries
// an explicit success marker.
type SuccessSignal struct {
	markers []string
}

// NewSuccessSignal lowercases the configured marker set once.
func NewSuccessSignal(markers []string) *SuccessSignal {
	d := &SuccessSignal{}
	for _, m := range markers {
		d.markers = append(d.markers, strings.ToLower(m))
	}
	return d
}

// Name implements Detector.
func (d *SuccessSignal) Name() string { return "success_signal" }

// Detect flags conversations whose reply contains a marker and records the
// marker as a pattern so its recurrence feeds the folder's signal vocabulary.
func (d *SuccessSignal) Detect(_ context.Context, in Input) (Result, error) {
	var res Result
	for i, c := range in.Conversations {
		lower := strings.ToLower(c.ClaudeReply)
		for _, marker := range d.markers {
			if !strings.Contains(lower, marker) {
				continue
			}
			res.Outcomes = append(res.Outcomes, Outcome{
				ConversationIndex: i,
				Success:           models.TriStateTrue(),
			})
			res.Patterns = append(res.Patterns, models.NewDetectedPattern(
				in.FolderID, in.SessionID, models.PatternSuccessSignal,
				"success marker: "+marker,
				models.JSONMetadata{"marker": marker},
			))
			break
		}
	}
	return res, nil
}
