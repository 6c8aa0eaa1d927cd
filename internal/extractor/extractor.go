// Package extractor segments per-session chunk streams into discrete
// (userInput, claudeReply) dialogue turns. The stream carries no framing, so
// turn boundaries come from an ordered rule list over typed chunks plus an
// inactivity sweep for turns that never see another chunk.
package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/thebtf/recall/internal/clock"
	"github.com/thebtf/recall/pkg/models"
)

// Turn is one segmented dialogue turn, ready to become a stored
// conversation. ClaudeReply may be empty: absence of a reply is meaningful
// and still emitted.
type Turn struct {
	TerminalSessionID string
	UserInput         string
	ClaudeReply       string
	StartEpoch        int64
	EndEpoch          int64
	Files             []string
	Command           string
}

// startRule is one entry in the ordered turn-start list. Rules are tried in
// order and the first match wins.
type startRule struct {
	re       *regexp.Regexp
	sentinel bool
}

// openTurn is the per-session carry-over state for a turn in progress,
// possibly spanning batch boundaries.
type openTurn struct {
	input      []string
	reply      strings.Builder
	startEpoch int64
	endEpoch   int64
	lastSeen   time.Time
	files      []string
	seenFiles  map[string]struct{}
	command    string
}

// Extractor scans chunk batches. Safe for concurrent use; state is keyed by
// terminal session id.
type Extractor struct {
	mu       sync.Mutex
	clk      clock.Clock
	timeout  time.Duration
	rules    []startRule
	denylist []*regexp.Regexp
	open     map[string]*openTurn
}

// New builds an extractor. prefixes are the invocation words that open a
// turn ("claude fix X" or a bare "claude"); denylist holds prompt-echo
// patterns stripped from replies; timeout closes turns left idle.
func New(prefixes, denylist []string, timeout time.Duration, clk clock.Clock) (*Extractor, error) {
	e := &Extractor{
		clk:     clk,
		timeout: timeout,
		open:    make(map[string]*openTurn),
	}
	// Per prefix: the with-argument form outranks the bare interactive form.
	for _, p := range prefixes {
		q := regexp.QuoteMeta(strings.ToLower(p))
		withArg, err := regexp.Compile(`(?i)^\s*` + q + `\s+\S`)
		if err != nil {
			return nil, fmt.Errorf("compile prefix %q: %w", p, err)
		}
		bare, err := regexp.Compile(`(?i)^\s*` + q + `\s*$`)
		if err != nil {
			return nil, fmt.Errorf("compile prefix %q: %w", p, err)
		}
		e.rules = append(e.rules,
			startRule{re: withArg},
			startRule{re: bare, sentinel: true},
		)
	}
	for _, d := range denylist {
		re, err := regexp.Compile(d)
		if err != nil {
			return nil, fmt.Errorf("compile denylist %q: %w", d, err)
		}
		e.denylist = append(e.denylist, re)
	}
	return e, nil
}

// Process consumes one batch's chunks strictly in arrival order and returns
// the turns closed by new turn starts. Turns still open at the end of the
// batch stay pending for the next batch or the inactivity sweep.
func (e *Extractor) Process(chunks []models.Chunk) []*Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	var closed []*Turn
	for i := range chunks {
		c := &chunks[i]
		if c.SessionID == "" {
			continue
		}
		cur := e.open[c.SessionID]

		if c.IsInput() {
			if input, ok := e.matchStart(c.Content); ok {
				if cur != nil {
					closed = append(closed, e.closeTurn(c.SessionID, cur))
				}
				cur = &openTurn{
					input:      []string{input},
					startEpoch: c.Timestamp,
					endEpoch:   c.Timestamp,
					seenFiles:  make(map[string]struct{}),
				}
				e.open[c.SessionID] = cur
			} else if cur != nil {
				// Typing inside an open turn extends the prompt rather
				// than opening a new one.
				if line := strings.TrimSpace(c.Content); line != "" {
					cur.input = append(cur.input, line)
				}
			}
		} else if cur != nil {
			if text := e.filterReply(c.Content); text != "" {
				if cur.reply.Len() > 0 {
					cur.reply.WriteString("\n")
				}
				cur.reply.WriteString(text)
			}
		}

		if cur != nil {
			cur.lastSeen = now
			if c.Timestamp > cur.endEpoch {
				cur.endEpoch = c.Timestamp
			}
			for _, f := range c.FileContext {
				if _, seen := cur.seenFiles[f]; !seen {
					cur.seenFiles[f] = struct{}{}
					cur.files = append(cur.files, f)
				}
			}
			if cur.command == "" && c.CommandContext != "" {
				cur.command = c.CommandContext
			}
		}
	}
	return closed
}

// SweepIdle closes turns that have not seen a chunk for the inactivity
// timeout. Called from the wall-clock sweep, independent of any batch.
func (e *Extractor) SweepIdle(now time.Time) []*Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed []*Turn
	for id, t := range e.open {
		if now.Sub(t.lastSeen) >= e.timeout {
			closed = append(closed, e.closeTurn(id, t))
		}
	}
	return closed
}

// Flush closes the session's open turn immediately, if any. Used on
// explicit session-end signals.
func (e *Extractor) Flush(sessionID string) *Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.open[sessionID]
	if !ok {
		return nil
	}
	return e.closeTurn(sessionID, t)
}

// FlushAll closes every open turn. Used on shutdown.
func (e *Extractor) FlushAll() []*Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed []*Turn
	for id, t := range e.open {
		closed = append(closed, e.closeTurn(id, t))
	}
	return closed
}

// matchStart runs the ordered rule list over an input chunk. A bare
// invocation opens an interactive turn with the sentinel input.
func (e *Extractor) matchStart(content string) (string, bool) {
	for _, r := range e.rules {
		if !r.re.MatchString(content) {
			continue
		}
		if r.sentinel {
			return models.InteractiveSentinel, true
		}
		return strings.TrimSpace(content), true
	}
	return "", false
}

// filterReply strips prompt echoes and command echoes from an output chunk
// before it joins the reply buffer.
func (e *Extractor) filterReply(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if e.isEcho(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (e *Extractor) isEcho(line string) bool {
	for _, re := range e.denylist {
		if re.MatchString(line) {
			return true
		}
	}
	// The invocation itself echoed back by the terminal.
	for _, r := range e.rules {
		if r.re.MatchString(line) {
			return true
		}
	}
	return false
}

// closeTurn emits the turn and resets the session's extraction state.
// Caller holds the lock.
func (e *Extractor) closeTurn(sessionID string, t *openTurn) *Turn {
	delete(e.open, sessionID)
	return &Turn{
		TerminalSessionID: sessionID,
		UserInput:         strings.Join(t.input, "\n"),
		ClaudeReply:       t.reply.String(),
		StartEpoch:        t.startEpoch,
		EndEpoch:          t.endEpoch,
		Files:             t.files,
		Command:           t.command,
	}
}
