// Package worker hosts the capture endpoint and the read-side API: it wires
// the extractor, detectors, stores, session lifecycle and the activity
// stream behind one chi router.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/recall/internal/cache"
	"github.com/thebtf/recall/internal/clock"
	"github.com/thebtf/recall/internal/config"
	gormstore "github.com/thebtf/recall/internal/db/gorm"
	"github.com/thebtf/recall/internal/detector"
	"github.com/thebtf/recall/internal/extractor"
	"github.com/thebtf/recall/internal/graph/falkor"
	"github.com/thebtf/recall/internal/privacy"
	"github.com/thebtf/recall/internal/tokens"
	"github.com/thebtf/recall/internal/worker/session"
	"github.com/thebtf/recall/internal/worker/sse"
	"github.com/thebtf/recall/pkg/models"
)

const (
	// turnSweepInterval drives the inactivity check for open turns.
	turnSweepInterval = time.Second

	// sessionSweepInterval drives the idle check for open sessions.
	sessionSweepInterval = 30 * time.Second

	// lookbackLimit bounds the activity window handed to the detectors.
	lookbackLimit = 10

	// insightPromotionThreshold is the sighting count at which a pattern is
	// established enough to record as a folder insight.
	insightPromotionThreshold = 5
)

// Service is the recall worker: capture, stats, resumption, session
// lifecycle and the SSE activity stream.
type Service struct {
	version string
	cfg     *config.Config
	store   *gormstore.Store

	folders       *gormstore.FolderStore
	sessions      *gormstore.SessionStore
	conversations *gormstore.ConversationStore
	patterns      *gormstore.PatternStore
	insights      *gormstore.InsightStore
	stats         *gormstore.StatsStore

	sessionManager *session.Manager
	broadcaster    *sse.Broadcaster
	extractor      *extractor.Extractor
	detectors      *detector.Runner
	activity       cache.ActivityCache
	estimator      *tokens.Estimator
	mirror         *falkor.Mirror
	clk            clock.Clock

	router    *chi.Mux
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     atomic.Bool
	startTime time.Time

	conversationsStored metric.Int64Counter
	patternsUpserted    metric.Int64Counter
}

// NewService wires a worker over an opened store. A nil clock selects the
// system clock.
func NewService(version string, cfg *config.Config, store *gormstore.Store, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.System()
	}

	ext, err := extractor.New(cfg.CommandPrefixes, cfg.PromptDenylist, cfg.TurnTimeout(), clk)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	runner, err := detector.NewRunner(cfg)
	if err != nil {
		return nil, fmt.Errorf("build detectors: %w", err)
	}

	activity := cache.New(cfg.RedisAddr, cfg.LookbackWindow())

	mirror, err := falkor.New(cfg.FalkorAddr)
	if err != nil {
		// The graph mirror is an enrichment, never a dependency.
		log.Warn().Err(err).Str("addr", cfg.FalkorAddr).Msg("Graph mirror unavailable, continuing without it")
		mirror = nil
	}

	folders := gormstore.NewFolderStore(store)
	sessions := gormstore.NewSessionStore(store)

	meter := otel.Meter("github.com/thebtf/recall/internal/worker")
	conversationsStored, _ := meter.Int64Counter("recall.conversations.extracted")
	patternsUpserted, _ := meter.Int64Counter("recall.patterns.upserted")

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:             version,
		cfg:                 cfg,
		store:               store,
		folders:             folders,
		sessions:            sessions,
		conversations:       gormstore.NewConversationStore(store),
		patterns:            gormstore.NewPatternStore(store),
		insights:            gormstore.NewInsightStore(store),
		stats:               gormstore.NewStatsStore(store),
		sessionManager:      session.NewManager(cfg, folders, sessions, activity, clk),
		broadcaster:         sse.NewBroadcaster(),
		extractor:           ext,
		detectors:           runner,
		activity:            activity,
		estimator:           tokens.NewEstimator(),
		mirror:              mirror,
		clk:                 clk,
		router:              chi.NewRouter(),
		ctx:                 ctx,
		cancel:              cancel,
		startTime:           time.Now(),
		conversationsStored: conversationsStored,
		patternsUpserted:    patternsUpserted,
	}
	svc.setupRoutes()
	svc.ready.Store(true)
	return svc, nil
}

// Router exposes the HTTP handler for the daemon's server.
func (s *Service) Router() http.Handler { return s.router }

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/version", s.handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Post("/api/capture", s.handleCapture)
		r.Get("/api/stats", s.handleStats)
		r.Post("/api/session/init", s.handleSessionInit)
		r.Post("/api/session/{sessionID}/finalize", s.handleSessionFinalize)
		r.Get("/api/resumption", s.handleResumption)
		r.Get("/api/events", s.broadcaster.ServeHTTP)
	})
}

// requireReady rejects traffic until startup finished.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "service is starting", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start launches the wall-clock sweeps. They fire independently of request
// traffic: an idle turn or session closes even if no chunk ever arrives
// again.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		turnTicker := time.NewTicker(turnSweepInterval)
		sessionTicker := time.NewTicker(sessionSweepInterval)
		defer turnTicker.Stop()
		defer sessionTicker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-turnTicker.C:
				s.sweepTurns(s.ctx)
			case <-sessionTicker.C:
				s.sweepSessions(s.ctx)
			}
		}
	}()
}

// Stop halts the sweeps, emits any still-open turns, and stops the watchers.
// The store itself is closed by the caller that opened it.
func (s *Service) Stop() {
	s.ready.Store(false)
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.storeTurns(ctx, s.extractor.FlushAll(), nil)
	s.sessionManager.Shutdown()
	if err := s.activity.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing activity cache")
	}
}

// sweepTurns closes turns idle past the inactivity timeout and stores them.
// An empty reply is still a conversation.
func (s *Service) sweepTurns(ctx context.Context) {
	turns := s.extractor.SweepIdle(s.clk.Now())
	if len(turns) == 0 {
		return
	}
	s.storeTurns(ctx, turns, nil)
}

// sweepSessions finalizes sessions idle past the session timeout.
func (s *Service) sweepSessions(ctx context.Context) {
	closed, err := s.sessionManager.SweepIdle(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Session idle sweep failed")
		return
	}
	for _, id := range closed {
		s.broadcaster.Broadcast(sse.Event{Type: sse.EventSession, Data: map[string]string{
			"sessionId": id,
			"status":    string(models.SessionStatusCompleted),
		}})
	}
}

// processBatch runs one capture batch through extraction, detection and
// storage. Returns the aggregate counters for the capture response.
func (s *Service) processBatch(ctx context.Context, chunks []models.Chunk) (*models.CaptureResponse, error) {
	turns := s.extractor.Process(chunks)

	resp := &models.CaptureResponse{Success: true, Processed: len(chunks)}

	chunksByTerm := make(map[string][]models.Chunk)
	turnsByTerm := make(map[string][]*extractor.Turn)
	var order []string
	seen := make(map[string]bool)
	for _, c := range chunks {
		if !seen[c.SessionID] {
			seen[c.SessionID] = true
			order = append(order, c.SessionID)
		}
		chunksByTerm[c.SessionID] = append(chunksByTerm[c.SessionID], c)
	}
	for _, t := range turns {
		if !seen[t.TerminalSessionID] {
			seen[t.TerminalSessionID] = true
			order = append(order, t.TerminalSessionID)
		}
		turnsByTerm[t.TerminalSessionID] = append(turnsByTerm[t.TerminalSessionID], t)
	}

	for _, term := range order {
		active, _, err := s.sessionManager.Resolve(ctx, term, "")
		if err != nil {
			return nil, fmt.Errorf("resolve session for %q: %w", term, err)
		}
		if err := s.processSession(ctx, active, chunksByTerm[term], turnsByTerm[term]); err != nil {
			return nil, err
		}
		resp.CurrentSession = active.SessionID
		total, err := s.conversations.CountConversations(ctx, active.FolderID)
		if err != nil {
			return nil, fmt.Errorf("count conversations: %w", err)
		}
		resp.TotalConversations = total
	}

	return resp, nil
}

// storeTurns persists turns that closed outside a capture request (sweeps,
// shutdown). chunksByTerm may be nil.
func (s *Service) storeTurns(ctx context.Context, turns []*extractor.Turn, chunksByTerm map[string][]models.Chunk) {
	byTerm := make(map[string][]*extractor.Turn)
	for _, t := range turns {
		byTerm[t.TerminalSessionID] = append(byTerm[t.TerminalSessionID], t)
	}
	for term, group := range byTerm {
		active, _, err := s.sessionManager.Resolve(ctx, term, "")
		if err != nil {
			log.Error().Err(err).Str("terminal_session_id", term).Msg("Cannot resolve session for swept turns")
			continue
		}
		if err := s.processSession(ctx, active, chunksByTerm[term], group); err != nil {
			log.Error().Err(err).Str("session_id", active.SessionID).Msg("Failed to store swept turns")
		}
	}
}

// processSession handles one context session's share of a batch: detector
// run, conversation storage, pattern upserts, activity recording.
func (s *Service) processSession(ctx context.Context, active *session.Active, chunks []models.Chunk, turns []*extractor.Turn) error {
	convs := make([]*models.Conversation, 0, len(turns))
	for _, t := range turns {
		if privacy.IsEntirelyPrivate(t.UserInput) {
			continue
		}
		input := privacy.Clean(t.UserInput)
		reply := privacy.Clean(t.ClaudeReply)
		c := models.NewConversation(active.SessionID, input, reply, t.StartEpoch)
		c.FilesInvolved = t.Files
		c.TokensUsed = s.estimator.CountTurn(input, reply)
		convs = append(convs, c)
	}

	patterns := s.detectors.Run(ctx, detector.Input{
		FolderID:      active.FolderID,
		SessionID:     active.SessionID,
		Chunks:        chunks,
		Conversations: convs,
		Lookback:      s.lookback(ctx, active.FolderID),
	})

	stored, rejected, err := s.conversations.StoreConversations(ctx, active.SessionID, convs)
	if err != nil {
		return fmt.Errorf("store conversations: %w", err)
	}
	if rejected > 0 {
		log.Warn().Int("rejected", rejected).Str("session_id", active.SessionID).Msg("Rejected malformed conversation records")
	}
	if stored > 0 {
		s.conversationsStored.Add(ctx, int64(stored))
		for _, c := range convs {
			if c.ID != 0 {
				s.broadcaster.Broadcast(sse.Event{Type: sse.EventConversation, Data: c})
			}
		}
	}

	for _, p := range patterns {
		row, err := s.patterns.UpsertPattern(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("pattern_type", string(p.Type)).Msg("Pattern upsert failed")
			continue
		}
		s.patternsUpserted.Add(ctx, 1)
		s.broadcaster.Broadcast(sse.Event{Type: sse.EventPattern, Data: row})
		s.promotePattern(ctx, row)
	}

	s.recordActivity(ctx, active.FolderID, chunks, turns)

	if err := s.sessions.TouchSession(ctx, active.SessionID, s.clk.Now().UnixMilli()); err != nil {
		log.Warn().Err(err).Str("session_id", active.SessionID).Msg("Failed to touch session")
	}
	return nil
}

// promotePattern records a pattern as a folder insight the first time its
// frequency reaches the promotion threshold; later sightings count as usage.
// Best effort on both paths.
func (s *Service) promotePattern(ctx context.Context, p *models.DetectedPattern) {
	switch {
	case p.Frequency == insightPromotionThreshold:
		ins := models.NewLearnedInsight(p.FolderID, insightTypeFor(p.Type), p.Description,
			fmt.Sprintf("Observed %d times since %s", p.Frequency, p.FirstSeen), p.Confidence)
		if _, err := s.insights.StoreInsight(ctx, ins); err != nil {
			log.Warn().Err(err).Str("pattern_type", string(p.Type)).Msg("Insight promotion failed")
		}
	case p.Frequency > insightPromotionThreshold:
		if err := s.insights.TouchInsight(ctx, p.FolderID, insightTypeFor(p.Type), p.Description); err != nil {
			log.Warn().Err(err).Str("pattern_type", string(p.Type)).Msg("Insight usage bump failed")
		}
	}
}

// insightTypeFor maps a pattern class to the insight taxonomy.
func insightTypeFor(t models.PatternType) models.InsightType {
	switch t {
	case models.PatternErrorSolution:
		return models.InsightPitfall
	case models.PatternFileCluster:
		return models.InsightArchitecture
	case models.PatternSuccessSignal:
		return models.InsightPreference
	default:
		return models.InsightWorkflow
	}
}

// lookback loads the recent-activity window for the detectors. A cache miss
// only narrows detection.
func (s *Service) lookback(ctx context.Context, folderID string) detector.Lookback {
	var lb detector.Lookback
	var err error
	if lb.Commands, err = s.activity.RecentCommands(ctx, folderID, lookbackLimit); err != nil {
		log.Debug().Err(err).Str("folder_id", folderID).Msg("Command look-back unavailable")
	}
	if lb.Files, err = s.activity.RecentFiles(ctx, folderID, lookbackLimit); err != nil {
		log.Debug().Err(err).Str("folder_id", folderID).Msg("File look-back unavailable")
	}
	return lb
}

// recordActivity feeds the look-back cache and the graph mirror from this
// batch's commands and files.
func (s *Service) recordActivity(ctx context.Context, folderID string, chunks []models.Chunk, turns []*extractor.Turn) {
	for _, c := range chunks {
		if c.Type == models.ChunkTerminalInput {
			if cmd := firstToken(c.Content); cmd != "" {
				if err := s.activity.AddCommand(ctx, folderID, cmd); err != nil {
					log.Debug().Err(err).Msg("Could not record command")
				}
			}
		}
		if len(c.FileContext) > 0 {
			if err := s.activity.AddFiles(ctx, folderID, c.FileContext); err != nil {
				log.Debug().Err(err).Msg("Could not record files")
			}
		}
	}
	for _, t := range turns {
		if len(t.Files) == 0 {
			continue
		}
		if err := s.activity.AddFiles(ctx, folderID, t.Files); err != nil {
			log.Debug().Err(err).Msg("Could not record turn files")
		}
		s.mirror.RecordCoEdits(folderID, t.Files)
	}
}

// firstToken returns the lowercased first whitespace-separated token.
func firstToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
