package detector

import (
	"context"
	"strings"

	"github.com/thebtf/recall/pkg/models"
)

// CommandSequence mines ordered runs of terminal commands. The same run
// observed again for a folder bumps the stored pattern's frequency.
type CommandSequence struct {
	MinLen int
}

// Name implements Detector.
func (d *CommandSequence) Name() string { return "command_sequence" }

// Detect slides a window over the normalized command names of the batch's
// input chunks. The look-back window contributes the tail of the previous
// batch so sequences spanning a flush boundary are still seen.
func (d *CommandSequence) Detect(_ context.Context, in Input) (Result, error) {
	minLen := d.MinLen
	if minLen < 2 {
		minLen = 2
	}

	var cmds []string
	// Look-back is newest first; take the most recent minLen-1 commands and
	// restore chronological order.
	take := minLen - 1
	if take > len(in.Lookback.Commands) {
		take = len(in.Lookback.Commands)
	}
	for i := take - 1; i >= 0; i-- {
		cmds = append(cmds, in.Lookback.Commands[i])
	}
	for i := range in.Chunks {
		c := &in.Chunks[i]
		if !c.IsInput() {
			continue
		}
		if name := commandName(c.Content); name != "" {
			cmds = append(cmds, name)
		}
	}

	var res Result
	for i := 0; i+minLen <= len(cmds); i++ {
		seq := cmds[i : i+minLen]
		desc := strings.Join(seq, " -> ")
		res.Patterns = append(res.Patterns, models.NewDetectedPattern(
			in.FolderID, in.SessionID, models.PatternCommandSequence, desc,
			models.JSONMetadata{"commands": append([]string(nil), seq...)},
		))
	}
	return res, nil
}

// commandName normalizes an input chunk to its command word.
func commandName(content string) string {
	fields := strings.Fields(strings.ToLower(content))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
