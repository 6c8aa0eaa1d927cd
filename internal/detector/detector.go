// Package detector mines capture batches for recurring structures: command
// sequences, error-to-fix pairs, file co-edit clusters and success signals.
// Detection is best-effort: a failing or panicking detector is logged and
// skipped, never failing the batch's conversation storage.
package detector

import (
	"context"
	"database/sql"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/pkg/models"
)

// Lookback is the short activity window preceding this batch, newest first.
type Lookback struct {
	Commands []string
	Files    []string
}

// Input is one batch's view for the detectors. Conversations are the turns
// extracted from the same batch, in arrival order.
type Input struct {
	FolderID      string
	SessionID     string
	Chunks        []models.Chunk
	Conversations []*models.Conversation
	Lookback      Lookback
}

// Outcome is a detector's verdict about one conversation in the input.
type Outcome struct {
	ConversationIndex int
	Success           models.TriState
	ErrorType         string
}

// Result is what one detector mined from the input.
type Result struct {
	Patterns []*models.DetectedPattern
	Outcomes []Outcome
}

// Detector mines one pattern class. Implementations must not mutate the
// input; verdicts go through Outcomes so the runner can apply them in a
// deterministic order.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) (Result, error)
}

// Runner executes all detectors over one input and merges their results.
type Runner struct {
	detectors []Detector
}

// NewRunner wires the four standard detectors from configuration.
func NewRunner(cfg *config.Config) (*Runner, error) {
	errSolution, err := NewErrorSolution(cfg.ErrorSignatures, cfg.SuccessMarkers)
	if err != nil {
		return nil, err
	}
	return &Runner{
		detectors: []Detector{
			&CommandSequence{MinLen: cfg.MinSequenceLength},
			errSolution,
			&FileCluster{},
			NewSuccessSignal(cfg.SuccessMarkers),
		},
	}, nil
}

// Run executes every detector concurrently, then applies conversation
// outcomes in registration order (later detectors win conflicts, so an
// explicit success marker overrides an earlier error verdict) and returns
// the collected pattern sightings for upsert.
func (r *Runner) Run(ctx context.Context, in Input) []*models.DetectedPattern {
	var mu sync.Mutex
	results := make([]Result, len(r.detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range r.detectors {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("detector", d.Name()).
						Msg("Detector panicked, skipping")
				}
			}()
			res, err := d.Detect(gctx, in)
			if err != nil {
				log.Warn().Err(err).Str("detector", d.Name()).Msg("Detector failed, skipping")
				return nil
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var patterns []*models.DetectedPattern
	for _, res := range results {
		for _, o := range res.Outcomes {
			if o.ConversationIndex < 0 || o.ConversationIndex >= len(in.Conversations) {
				continue
			}
			c := in.Conversations[o.ConversationIndex]
			if o.ErrorType != "" && !c.ErrorType.Valid {
				c.ErrorType = sql.NullString{String: o.ErrorType, Valid: true}
			}
			if o.Success.Valid {
				c.Success = o.Success
			}
		}
		patterns = append(patterns, res.Patterns...)
	}
	return patterns
}
