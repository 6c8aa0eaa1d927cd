package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/thebtf/recall/pkg/models"
)

// resolutionWords extend the configured success markers with the language
// replies use when an error was just dealt with.
var resolutionWords = []string{"fixed", "resolved", "solved"}

// ErrorSolution pairs error signatures in replies with nearby resolution
// language, either in the same reply or in the next turn.
type ErrorSolution struct {
	signatures  []*regexp.Regexp
	resolutions []string
}

// NewErrorSolution compiles the configured error signatures.
func NewErrorSolution(signatures, successMarkers []string) (*ErrorSolution, error) {
	d := &ErrorSolution{}
	for _, s := range signatures {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("compile error signature %q: %w", s, err)
		}
		d.signatures = append(d.signatures, re)
	}
	for _, m := range successMarkers {
		d.resolutions = append(d.resolutions, strings.ToLower(m))
	}
	d.resolutions = append(d.resolutions, resolutionWords...)
	return d, nil
}

// Name implements Detector.
func (d *ErrorSolution) Name() string { return "error_solution" }

// Detect scans each conversation's reply for an error signature. A
// resolution found in the same or the next reply yields a pattern; an error
// with no resolution marks the turn failed (unless a later detector says
// otherwise).
func (d *ErrorSolution) Detect(_ context.Context, in Input) (Result, error) {
	var res Result
	for i, c := range in.Conversations {
		errType, found := d.matchError(c.ClaudeReply)
		if !found {
			continue
		}
		out := Outcome{ConversationIndex: i, ErrorType: errType}

		summary, solved := d.findResolution(c.ClaudeReply)
		if !solved && i+1 < len(in.Conversations) {
			summary, solved = d.findResolution(in.Conversations[i+1].ClaudeReply)
		}
		if solved {
			desc := errType + " resolved: " + summary
			res.Patterns = append(res.Patterns, models.NewDetectedPattern(
				in.FolderID, in.SessionID, models.PatternErrorSolution, desc,
				models.JSONMetadata{
					"errorType":       errType,
					"solutionSummary": summary,
				},
			))
		} else {
			out.Success = models.TriStateFalse()
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	return res, nil
}

// matchError returns a normalized label for the first matching signature.
func (d *ErrorSolution) matchError(reply string) (string, bool) {
	for _, re := range d.signatures {
		if m := re.FindString(reply); m != "" {
			label := strings.ToLower(strings.Trim(m, " :\t\r\n"))
			if label == "" {
				label = "error"
			}
			return label, true
		}
	}
	return "", false
}

// findResolution returns the first line carrying resolution language.
func (d *ErrorSolution) findResolution(reply string) (string, bool) {
	for _, line := range strings.Split(reply, "\n") {
		lower := strings.ToLower(line)
		for _, marker := range d.resolutions {
			if strings.Contains(lower, marker) {
				return truncate(strings.TrimSpace(line), 120), true
			}
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
