// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/pkg/models"
)

func TestPatternStore_FirstSighting(t *testing.T) {
	store := newTestStore(t)
	patterns := NewPatternStore(store)
	ctx := context.Background()

	p := models.NewDetectedPattern("demo_abc123", "session-1", models.PatternCommandSequence,
		"go test ./... -> git commit", nil)

	got, err := patterns.UpsertPattern(ctx, p)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Frequency)
	require.InDelta(t, models.BaseConfidence, got.Confidence, 0.001)
	require.NotZero(t, got.ID)
}

func TestPatternStore_RepeatSightingsBumpOneRow(t *testing.T) {
	store := newTestStore(t)
	patterns := NewPatternStore(store)
	ctx := context.Background()

	// Same pattern observed three times, with formatting differences the
	// normalized description absorbs.
	descriptions := []string{
		"go test ./... -> git commit",
		"GO TEST ./...  ->  git commit",
		"go test ./... -> git   commit",
	}
	var last *models.DetectedPattern
	for i, d := range descriptions {
		p := models.NewDetectedPattern("demo_abc123", "session-1", models.PatternCommandSequence, d, nil)
		var err error
		last, err = patterns.UpsertPattern(ctx, p)
		require.NoError(t, err, "sighting %d", i+1)
	}

	require.Equal(t, int64(3), last.Frequency)
	require.InDelta(t, 0.50, last.Confidence, 0.001)

	n, err := patterns.CountPatterns(ctx, "demo_abc123")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "three sightings must share one row")
}

func TestPatternStore_ConfidenceIsCapped(t *testing.T) {
	store := newTestStore(t)
	patterns := NewPatternStore(store)
	ctx := context.Background()

	var got *models.DetectedPattern
	for i := 0; i < 12; i++ {
		p := models.NewDetectedPattern("demo_abc123", "session-1", models.PatternSuccessSignal,
			"all tests pass", nil)
		var err error
		got, err = patterns.UpsertPattern(ctx, p)
		require.NoError(t, err)
	}

	require.Equal(t, int64(12), got.Frequency)
	require.InDelta(t, models.MaxConfidence, got.Confidence, 0.001)
}

func TestPatternStore_IdentityIsScoped(t *testing.T) {
	store := newTestStore(t)
	patterns := NewPatternStore(store)
	ctx := context.Background()

	// Same description under a different folder or type is a distinct row.
	combos := []struct {
		folder string
		ptype  models.PatternType
	}{
		{"demo_abc123", models.PatternCommandSequence},
		{"demo_abc123", models.PatternErrorSolution},
		{"other_def456", models.PatternCommandSequence},
	}
	for _, c := range combos {
		p := models.NewDetectedPattern(c.folder, "session-1", c.ptype, "npm install -> npm test", nil)
		_, err := patterns.UpsertPattern(ctx, p)
		require.NoError(t, err)
	}

	n, err := patterns.CountPatterns(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = patterns.CountPatterns(ctx, "demo_abc123")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestPatternStore_PatternsByType(t *testing.T) {
	store := newTestStore(t)
	patterns := NewPatternStore(store)
	ctx := context.Background()

	frequent := models.NewDetectedPattern("demo_abc123", "session-1", models.PatternErrorSolution,
		"ENOENT fixed by npm install", nil)
	rare := models.NewDetectedPattern("demo_abc123", "session-1", models.PatternErrorSolution,
		"port in use fixed by kill", nil)

	for i := 0; i < 3; i++ {
		_, err := patterns.UpsertPattern(ctx, frequent)
		require.NoError(t, err)
	}
	_, err := patterns.UpsertPattern(ctx, rare)
	require.NoError(t, err)

	got, err := patterns.PatternsByType(ctx, "demo_abc123", models.PatternErrorSolution, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(3), got[0].Frequency, "most frequent first")
}
