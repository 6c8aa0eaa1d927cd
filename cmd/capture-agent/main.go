// Package main provides the capture agent: it reads chunk events as JSON
// lines on stdin, batches them, and posts batches to the recall daemon.
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/accumulator"
	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/internal/dispatch"
	"github.com/thebtf/recall/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

// maxLineBytes bounds a single stdin chunk line.
const maxLineBytes = 1 << 20

func main() {
	endpoint := flag.String("endpoint", fmt.Sprintf("http://127.0.0.1:%d/api/capture", config.DefaultWorkerPort), "Capture endpoint URL")
	flushInterval := flag.Duration("flush-interval", config.DefaultFlushIntervalMs*time.Millisecond, "Max time a chunk waits before flushing")
	maxBatch := flag.Int("max-batch", config.DefaultMaxBatchSize, "Chunk count that triggers an early flush")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	client := dispatch.NewClient(*endpoint)
	acc := accumulator.New(client, accumulator.Options{
		FlushInterval: *flushInterval,
		MaxBatchSize:  *maxBatch,
		OnFlush: func(sessionID string, resp *models.CaptureResponse) {
			log.Debug().
				Str("session_id", sessionID).
				Int("processed", resp.Processed).
				Int64("total_conversations", resp.TotalConversations).
				Msg("Batch delivered")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acc.Start(ctx)

	log.Info().Str("endpoint", *endpoint).Str("version", Version).Msg("capture-agent reading stdin")

	done := make(chan struct{})
	go func() {
		defer close(done)
		readChunks(acc)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-done:
		log.Info().Msg("Input closed, draining")
	}

	// Stop drains every buffered chunk before exit.
	acc.Stop()
	if acc.Degraded() {
		log.Warn().Msg("Exiting while dispatch is degraded, some chunks may not have been delivered")
	}
}

// readChunks consumes JSON chunk lines until stdin closes. A malformed line
// is logged and skipped, never fatal.
func readChunks(acc *accumulator.Accumulator) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk models.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed chunk line")
			continue
		}
		acc.AddChunk(chunk.SessionID, chunk)
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading stdin")
	}
}
