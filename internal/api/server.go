// Package api exposes the guardian HTTP surface: asset registry, scan
// control, violations, infringer profiles, legal cases, and exports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/auth"
	"github.com/imageguard/guardian/internal/cases"
	"github.com/imageguard/guardian/internal/config"
	"github.com/imageguard/guardian/internal/fingerprint"
	"github.com/imageguard/guardian/internal/hunter"
	"github.com/imageguard/guardian/internal/infringer"
	"github.com/imageguard/guardian/internal/matcher"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/notifications"
	"github.com/imageguard/guardian/internal/platforms"
	"github.com/imageguard/guardian/internal/queue"
	"github.com/imageguard/guardian/internal/registry"
	"github.com/imageguard/guardian/internal/reports"
	"github.com/imageguard/guardian/internal/scheduler"
	"github.com/imageguard/guardian/internal/storage"
	"github.com/imageguard/guardian/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	registry  *registry.Service
	hunter    *hunter.Hunter
	cases     *cases.Service
	infringer *infringer.Service
	graph     *infringer.Graph

	queue  *queue.Queue
	worker *queue.Worker

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	reportGenerator *reports.Generator

	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing blob storage: %w", err)
	}

	// Redis is optional. Without it fingerprints are computed inline, scan
	// progress streaming degrades to polling, and no worker pool runs.
	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		s.logger.Warn("redis unavailable, running without job queue", "error", err)
	} else {
		s.queue = q
	}

	if cfg.Neo4j.Enabled {
		graph, err := infringer.NewGraph(infringer.GraphConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			s.logger.Warn("neo4j unavailable, seller graph disabled", "error", err)
		} else {
			s.graph = graph
		}
	}

	s.infringer = infringer.NewService(st, s.graph)

	gen := fingerprint.NewGenerator()
	var enq registry.Enqueuer
	if s.queue != nil {
		enq = s.queue
	}
	s.registry = registry.NewService(st, blobs, gen, enq, s.logger)

	sources := platforms.NewRegistry()
	for _, pc := range cfg.Platforms {
		if !pc.Enabled {
			continue
		}
		sources.Register(platforms.NewHTTPSource(platforms.HTTPSourceConfig{
			Platform:       pc.Name,
			BaseURL:        pc.BaseURL,
			APIKey:         pc.APIKey,
			RequestsPerSec: pc.RequestsPerSec,
			Burst:          pc.Burst,
			Timeout:        pc.Timeout,
		}))
	}

	m := matcher.New(matcher.Weights{
		PHash: cfg.Matcher.PHashWeight,
		ORB:   cfg.Matcher.ORBWeight,
		Color: cfg.Matcher.ColorWeight,
	})

	hunterOpts := []hunter.Option{hunter.WithRecomputer(s.infringer)}
	if s.queue != nil {
		hunterOpts = append(hunterOpts,
			hunter.WithCache(s.queue),
			hunter.WithPublisher(s.queue),
		)
	}
	s.hunter = hunter.New(st, sources, m, gen, s.logger, hunterOpts...)

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "Image Guardian",
			IconEmoji:   ":shield:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
		Email: notifications.EmailConfig{
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			Enabled:     cfg.Notifications.Email.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
	}, s.logger)

	s.cases = cases.NewService(st, s.logger, cases.WithNotifier(s.notificationService))

	if s.queue != nil {
		s.worker = queue.NewWorker(queue.WorkerConfig{
			Queue:    s.queue,
			Registry: s.registry,
			Hunter:   s.hunter,
			Logger:   s.logger,
		})
	}

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)
	s.registerSchedulerHandlers()

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{store: st, cases: s.cases})

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func newBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Store(context.Background(), storage.S3Config{
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			Prefix:          cfg.Storage.S3.Prefix,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})
	}
	return storage.NewLocalStore(cfg.Storage.LocalRoot)
}

func (s *Server) registerSchedulerHandlers() {
	handlers := &scheduler.GuardianHandlers{
		RefreshFunc: s.refreshAllProfiles,
	}
	if s.queue != nil {
		handlers.Launcher = s.hunter
		handlers.Enqueuer = s.queue
	}
	handlers.Register(s.scheduler)
}

// refreshAllProfiles recomputes every known infringer profile.
func (s *Server) refreshAllProfiles(ctx context.Context) error {
	profiles, _, err := s.store.ListInfringerProfiles(ctx, store.ListInfringerFilters{Limit: 10000})
	if err != nil {
		return err
	}
	for i := range profiles {
		if _, err := s.infringer.Recompute(ctx, profiles[i].Platform, profiles[i].SellerID); err != nil {
			s.logger.Warn("profile refresh failed",
				"platform", profiles[i].Platform, "seller_id", profiles[i].SellerID, "error", err)
		}
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/assets", func(r chi.Router) {
				r.Get("/", s.listAssets)
				r.Post("/", s.registerAsset)
				r.Get("/{assetID}", s.getAsset)
				r.Patch("/{assetID}", s.updateAsset)
				r.Delete("/{assetID}", s.deleteAsset)
				r.Post("/{assetID}/archive", s.archiveAsset)
				r.Post("/{assetID}/monitoring", s.setAssetMonitoring)
				r.Get("/{assetID}/violations", s.listAssetViolations)
			})

			r.Route("/whitelist", func(r chi.Router) {
				r.Get("/", s.listWhitelist)
				r.Post("/", s.addWhitelistEntry)
				r.Delete("/{entryID}", s.removeWhitelistEntry)
			})

			r.Route("/scans", func(r chi.Router) {
				r.Get("/", s.listScans)
				r.Post("/", s.createScan)
				r.Get("/{taskID}", s.getScan)
				r.Post("/{taskID}/cancel", s.cancelScan)
				r.Get("/{taskID}/progress", s.streamScanProgress)
			})

			r.Route("/violations", func(r chi.Router) {
				r.Get("/", s.listViolations)
				r.Get("/{violationID}", s.getViolation)
				r.Post("/{violationID}/whitelist", s.setViolationWhitelisted)
			})

			r.Route("/infringers", func(r chi.Router) {
				r.Get("/", s.listInfringers)
				r.Get("/{platform}/{sellerID}", s.getInfringer)
				r.Get("/{platform}/{sellerID}/violations", s.listInfringerViolations)
				r.Get("/{platform}/{sellerID}/related", s.getRelatedSellers)
				r.Post("/{platform}/{sellerID}/recompute", s.recomputeInfringer)
			})

			r.Route("/cases", func(r chi.Router) {
				r.Get("/", s.listCases)
				r.Post("/", s.createCase)
				r.Get("/{caseID}", s.getCase)
				r.Patch("/{caseID}", s.updateCase)
				r.Post("/{caseID}/transition", s.transitionCase)
				r.Post("/{caseID}/notes", s.addCaseNote)
				r.Post("/{caseID}/evidence", s.addCaseEvidence)
				r.Get("/{caseID}/timeline", s.getCaseTimeline)
				r.Get("/{caseID}/violations", s.getCaseViolations)
				r.Get("/{caseID}/evidence.pdf", s.downloadCaseEvidence)

				r.Route("/{caseID}/letters", func(r chi.Router) {
					r.Get("/", s.listLetters)
					r.Post("/", s.draftLetter)
					r.Post("/{letterID}/send", s.sendLetter)
					r.Post("/{letterID}/response", s.recordLetterResponse)
				})

				r.Route("/{caseID}/reports", func(r chi.Router) {
					r.Get("/", s.listReports)
					r.Post("/", s.draftReport)
					r.Post("/{reportID}/submit", s.submitReport)
					r.Post("/{reportID}/outcome", s.recordReportOutcome)
				})
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/summary", s.getDashboardSummary)
				r.Get("/queue", s.getQueueStats)
			})

			r.Route("/exports", func(r chi.Router) {
				r.Post("/generate", s.generateExport)
				r.Get("/stream", s.streamCSVExport)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			s.logger.Error("failed to start worker", "error", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.worker != nil {
			s.worker.Stop()
		}
		if s.queue != nil {
			_ = s.queue.Close()
		}
		if s.graph != nil {
			_ = s.graph.Close(context.Background())
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var terr *models.IllegalTransitionError

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.As(err, &terr):
		respondError(w, http.StatusConflict, "illegal_transition", terr.Error())
	case errors.Is(err, models.ErrMixedInfringer):
		respondError(w, http.StatusBadRequest, "mixed_infringer", err.Error())
	case errors.Is(err, models.ErrTaskAlreadyRunning):
		respondError(w, http.StatusConflict, "already_running", err.Error())
	case errors.Is(err, models.ErrTaskNotCancellable):
		respondError(w, http.StatusConflict, "not_cancellable", err.Error())
	case errors.Is(err, models.ErrInvalidImage), errors.Is(err, models.ErrUnsupportedFormat):
		respondError(w, http.StatusUnprocessableEntity, "invalid_image", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// currentUserID pulls the authenticated user's id out of the request context.
func currentUserID(r *http.Request) (uuid.UUID, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := claims.UserUUID()
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type reportDataProvider struct {
	store *store.Store
	cases *cases.Service
}

func (p *reportDataProvider) GetViolations(ctx context.Context, filter reports.ViolationsFilter) ([]*models.Violation, error) {
	storeFilters := store.ListViolationFilters{Limit: 10000}
	if len(filter.Platforms) == 1 {
		storeFilters.Platform = &filter.Platforms[0]
	}
	if len(filter.Levels) == 1 {
		storeFilters.Level = &filter.Levels[0]
	}

	violations, _, err := p.store.ListViolations(ctx, storeFilters)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Violation, len(violations))
	for i := range violations {
		out[i] = &violations[i]
	}
	return out, nil
}

func (p *reportDataProvider) GetInfringers(ctx context.Context, filter reports.InfringersFilter) ([]*models.InfringerProfile, error) {
	storeFilters := store.ListInfringerFilters{Limit: 10000}
	if len(filter.Platforms) == 1 {
		storeFilters.Platform = &filter.Platforms[0]
	}

	profiles, _, err := p.store.ListInfringerProfiles(ctx, storeFilters)
	if err != nil {
		return nil, err
	}

	out := make([]*models.InfringerProfile, len(profiles))
	for i := range profiles {
		out[i] = &profiles[i]
	}
	return out, nil
}

func (p *reportDataProvider) GetCaseBundle(ctx context.Context, caseID uuid.UUID) (*reports.CaseBundle, error) {
	c, err := p.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	violations, err := p.cases.Violations(ctx, caseID)
	if err != nil {
		return nil, err
	}
	letters, err := p.cases.Letters(ctx, caseID)
	if err != nil {
		return nil, err
	}
	officialReports, err := p.cases.Reports(ctx, caseID)
	if err != nil {
		return nil, err
	}
	timeline, err := p.cases.Timeline(ctx, caseID)
	if err != nil {
		return nil, err
	}

	bundle := &reports.CaseBundle{Case: c}
	for i := range violations {
		bundle.Violations = append(bundle.Violations, &violations[i])
	}
	for i := range letters {
		bundle.Letters = append(bundle.Letters, &letters[i])
	}
	for i := range officialReports {
		bundle.Reports = append(bundle.Reports, &officialReports[i])
	}
	for i := range timeline {
		bundle.Timeline = append(bundle.Timeline, &timeline[i])
	}
	return bundle, nil
}

func (p *reportDataProvider) GetStats(ctx context.Context) (*reports.Stats, error) {
	stats := &reports.Stats{
		ViolationsByPlatform: make(map[string]int),
		CasesByStatus:        make(map[string]int),
	}

	violations, total, err := p.store.ListViolations(ctx, store.ListViolationFilters{Limit: 10000})
	if err != nil {
		return nil, err
	}
	stats.TotalViolations = total
	for _, v := range violations {
		stats.ViolationsByPlatform[string(v.Platform)]++
		switch v.Level {
		case models.SimilarityExact:
			stats.ExactMatches++
		case models.SimilarityHigh:
			stats.HighMatches++
		case models.SimilarityMedium:
			stats.MediumMatches++
		default:
			stats.LowMatches++
		}
	}

	_, assetTotal, err := p.store.ListAssets(ctx, store.ListAssetFilters{Limit: 1})
	if err != nil {
		return nil, err
	}
	stats.ProtectedAssets = assetTotal

	caseList, _, err := p.store.ListCases(ctx, store.ListCaseFilters{Limit: 10000})
	if err != nil {
		return nil, err
	}
	for _, c := range caseList {
		stats.CasesByStatus[string(c.Status)]++
		if c.Status.Terminal() {
			stats.ResolvedCases++
		} else {
			stats.OpenCases++
		}
	}

	critical := models.RiskCritical
	_, criticalTotal, err := p.store.ListInfringerProfiles(ctx, store.ListInfringerFilters{RiskLevel: &critical, Limit: 1})
	if err != nil {
		return nil, err
	}
	stats.CriticalInfringers = criticalTotal

	return stats, nil
}
