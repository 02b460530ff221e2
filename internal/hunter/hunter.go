// Package hunter orchestrates marketplace scans: it fans out per-platform
// workers, fingerprints candidate listings, scores them against the
// reference assets, and records violations.
package hunter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/fingerprint"
	"github.com/imageguard/guardian/internal/matcher"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/platforms"
	"github.com/imageguard/guardian/internal/store"
)

const (
	defaultMaxResults = 100
	defaultScanDepth  = 3
	defaultPageSize   = 50
	maxScanDepth      = 20
	maxFetchAttempts  = 3
	baseBackoff       = 500 * time.Millisecond
)

// Store is the persistence surface the hunter needs.
type Store interface {
	CreateScanTask(ctx context.Context, task *models.ScanTask) error
	GetScanTask(ctx context.Context, id uuid.UUID) (*models.ScanTask, error)
	ListScanTasks(ctx context.Context, filters store.ListScanTaskFilters) ([]models.ScanTask, int, error)
	MarkScanTaskRunning(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateScanTaskProgress(ctx context.Context, id uuid.UUID, progress, scanned, violations int) error
	FinishScanTask(ctx context.Context, id uuid.UUID, status models.ScanStatus, scanned, violations int, failures models.JSONB, errMsg string, elapsed time.Duration) error

	ListIndexedAssets(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error)
	ActiveWhitelist(ctx context.Context, userID uuid.UUID, platforms []models.Platform) ([]models.WhitelistEntry, error)
	CreateViolation(ctx context.Context, v *models.Violation) (bool, error)
	BumpAssetScanStats(ctx context.Context, id uuid.UUID, newViolations int) error
}

// ProgressPublisher receives live progress snapshots for streaming to
// clients. Publish must not block for long; slow consumers drop updates.
type ProgressPublisher interface {
	Publish(taskID uuid.UUID, snapshot Progress)
}

// ProfileRecomputer rebuilds infringer profiles after new violations land.
type ProfileRecomputer interface {
	Recompute(ctx context.Context, platform models.Platform, sellerID string) (*models.InfringerProfile, error)
}

// Progress is a live snapshot of one running scan.
type Progress struct {
	TaskID     uuid.UUID         `json:"task_id"`
	Status     models.ScanStatus `json:"status"`
	Percent    int               `json:"percent"`
	Scanned    int               `json:"scanned"`
	Violations int               `json:"violations"`
	Phase      string            `json:"phase"`
}

// Cache memoizes candidate fingerprints across scans, keyed by image URL.
type Cache interface {
	GetFingerprint(ctx context.Context, imageURL string) (*models.Fingerprint, bool)
	SetFingerprint(ctx context.Context, imageURL string, fp models.Fingerprint)
}

type Hunter struct {
	store      Store
	sources    *platforms.Registry
	matcher    *matcher.Matcher
	generator  *fingerprint.Generator
	cache      Cache             // optional
	publisher  ProgressPublisher // optional
	recomputer ProfileRecomputer // optional
	logger     *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

type Option func(*Hunter)

func WithCache(cache Cache) Option {
	return func(h *Hunter) { h.cache = cache }
}

func WithPublisher(pub ProgressPublisher) Option {
	return func(h *Hunter) { h.publisher = pub }
}

func WithRecomputer(r ProfileRecomputer) Option {
	return func(h *Hunter) { h.recomputer = r }
}

func New(st Store, sources *platforms.Registry, m *matcher.Matcher, gen *fingerprint.Generator, logger *slog.Logger, opts ...Option) *Hunter {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hunter{
		store:     st,
		sources:   sources,
		matcher:   m,
		generator: gen,
		logger:    logger,
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateTask validates a scan configuration and persists it as queued.
func (h *Hunter) CreateTask(ctx context.Context, userID uuid.UUID, cfg models.ScanConfig) (*models.ScanTask, error) {
	if err := validateConfig(userID, &cfg); err != nil {
		return nil, err
	}

	assetIDs := make([]string, len(cfg.AssetIDs))
	for i, id := range cfg.AssetIDs {
		assetIDs[i] = id.String()
	}
	platformNames := make([]string, len(cfg.Platforms))
	for i, p := range cfg.Platforms {
		platformNames[i] = string(p)
	}

	task := &models.ScanTask{
		UserID:     userID,
		Mode:       cfg.Mode,
		AssetIDs:   models.StringArray(assetIDs),
		Platforms:  models.StringArray(platformNames),
		Keywords:   models.StringArray(cfg.Keywords),
		Threshold:  cfg.SimilarityThreshold,
		MaxResults: cfg.MaxResults,
		ScanDepth:  cfg.ScanDepth,
	}
	if err := h.store.CreateScanTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating scan task: %w", err)
	}
	h.logger.Info("scan task created", "task_id", task.ID, "mode", task.Mode, "platforms", platformNames)
	return task, nil
}

func validateConfig(userID uuid.UUID, cfg *models.ScanConfig) error {
	verr := &models.ValidationError{}
	if userID == uuid.Nil {
		verr.Add("user_id is required")
	}

	switch cfg.Mode {
	case models.ScanModeKeyword, models.ScanModeVisual, models.ScanModeHybrid:
	case "":
		verr.Add("mode is required")
	default:
		verr.Add("unknown scan mode %q", cfg.Mode)
	}

	if len(cfg.Platforms) == 0 {
		verr.Add("at least one platform is required")
	}
	seen := make(map[models.Platform]bool)
	for _, p := range cfg.Platforms {
		if seen[p] {
			verr.Add("duplicate platform %q", p)
		}
		seen[p] = true
	}

	if cfg.Mode != models.ScanModeVisual {
		hasKeyword := false
		for _, kw := range cfg.Keywords {
			if strings.TrimSpace(kw) != "" {
				hasKeyword = true
				break
			}
		}
		if !hasKeyword {
			verr.Add("keywords are required for %s scans", cfg.Mode)
		}
	}
	if len(cfg.AssetIDs) == 0 {
		verr.Add("at least one asset is required")
	}

	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 100 {
		verr.Add("similarity_threshold must be between 0 and 100")
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 50
	}
	if cfg.MaxResults < 0 {
		verr.Add("max_results must not be negative")
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.ScanDepth < 0 || cfg.ScanDepth > maxScanDepth {
		verr.Add("scan_depth must be between 0 and %d", maxScanDepth)
	}
	if cfg.ScanDepth == 0 {
		cfg.ScanDepth = defaultScanDepth
	}
	if cfg.PriceMin < 0 || cfg.PriceMax < 0 {
		verr.Add("price bounds must not be negative")
	}
	if cfg.PriceMax > 0 && cfg.PriceMin > cfg.PriceMax {
		verr.Add("price_min must not exceed price_max")
	}

	return verr.Err()
}

// Start launches a queued task in the background. A task can be started
// exactly once; later attempts return ErrTaskAlreadyRunning.
func (h *Hunter) Start(ctx context.Context, taskID uuid.UUID) error {
	task, err := h.store.GetScanTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return models.ErrNotFound
	}

	started, err := h.store.MarkScanTaskRunning(ctx, taskID)
	if err != nil {
		return err
	}
	if !started {
		return models.ErrTaskAlreadyRunning
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.running[taskID] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.running, taskID)
			h.mu.Unlock()
		}()
		h.run(scanCtx, task)
	}()

	return nil
}

// Cancel stops a running task. Queued tasks are moved straight to cancelled;
// terminal tasks return ErrTaskNotCancellable.
func (h *Hunter) Cancel(ctx context.Context, taskID uuid.UUID) error {
	task, err := h.store.GetScanTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return models.ErrNotFound
	}
	if task.Status.Terminal() {
		return models.ErrTaskNotCancellable
	}

	h.mu.Lock()
	cancel, isRunning := h.running[taskID]
	h.mu.Unlock()

	if isRunning {
		cancel()
		return nil
	}

	// queued task: no goroutine to signal, finalize directly
	return h.store.FinishScanTask(ctx, taskID, models.ScanStatusCancelled, 0, 0, nil, "cancelled before start", 0)
}

// Task returns the current state of a scan task.
func (h *Hunter) Task(ctx context.Context, id uuid.UUID) (*models.ScanTask, error) {
	task, err := h.store.GetScanTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, models.ErrNotFound
	}
	return task, nil
}

// Tasks lists scan tasks matching the filters.
func (h *Hunter) Tasks(ctx context.Context, filters store.ListScanTaskFilters) ([]models.ScanTask, int, error) {
	return h.store.ListScanTasks(ctx, filters)
}

// Running reports whether the task has an active scan goroutine.
func (h *Hunter) Running(taskID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[taskID]
	return ok
}

// counters aggregates scan-wide totals across platform workers.
type counters struct {
	mu             sync.Mutex
	scanned        int
	violations     int
	pagesDone      int
	pagesTotal     int
	maxPercent     int
	byAsset        map[uuid.UUID]int
	sellers        map[models.InfringerKey]bool
	failures       models.JSONB
	succeededCount int

	// reportMu serializes progress reporting so concurrent platform
	// workers cannot emit a stale percentage after a newer one
	reportMu sync.Mutex
}

func (c *counters) recordListing() {
	c.mu.Lock()
	c.scanned++
	c.mu.Unlock()
}

func (c *counters) recordViolation(assetID uuid.UUID, key models.InfringerKey) {
	c.mu.Lock()
	c.violations++
	c.byAsset[assetID]++
	c.sellers[key] = true
	c.mu.Unlock()
}

// pageDone advances the page counter and returns a monotonic percentage
// capped at 99 until the scan finalizes.
func (c *counters) pageDone() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pagesDone++
	percent := c.pagesDone * 100 / c.pagesTotal
	if percent > 99 {
		percent = 99
	}
	if percent > c.maxPercent {
		c.maxPercent = percent
	}
	return c.maxPercent
}

func (c *counters) snapshot() (scanned, violations, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanned, c.violations, c.maxPercent
}

func (c *counters) recordFailure(platform models.Platform, err error, attempts int) {
	c.mu.Lock()
	c.failures[string(platform)] = map[string]interface{}{
		"message":  err.Error(),
		"attempts": attempts,
	}
	c.mu.Unlock()
}

func (c *counters) platformSucceeded() {
	c.mu.Lock()
	c.succeededCount++
	c.mu.Unlock()
}

func (h *Hunter) run(ctx context.Context, task *models.ScanTask) {
	started := time.Now()
	cfg := task.Config()

	h.publish(task.ID, Progress{TaskID: task.ID, Status: models.ScanStatusRunning, Phase: "loading reference assets"})

	assets, err := h.store.ListIndexedAssets(ctx, task.UserID, cfg.AssetIDs)
	if err != nil {
		h.finish(ctx, task, models.ScanStatusFailed, nil, fmt.Sprintf("loading assets: %v", err), started)
		return
	}
	if len(assets) == 0 {
		h.finish(ctx, task, models.ScanStatusFailed, nil, "no indexed assets to scan against", started)
		return
	}

	whitelist, err := h.store.ActiveWhitelist(ctx, task.UserID, cfg.Platforms)
	if err != nil {
		h.finish(ctx, task, models.ScanStatusFailed, nil, fmt.Sprintf("loading whitelist: %v", err), started)
		return
	}

	totals := &counters{
		pagesTotal: len(cfg.Platforms) * cfg.ScanDepth,
		byAsset:    make(map[uuid.UUID]int),
		sellers:    make(map[models.InfringerKey]bool),
		failures:   models.JSONB{},
	}

	var wg sync.WaitGroup
	for _, platform := range cfg.Platforms {
		wg.Add(1)
		go func(p models.Platform) {
			defer wg.Done()
			h.scanPlatform(ctx, task, cfg, p, assets, whitelist, totals)
		}(platform)
	}
	wg.Wait()

	scanned, violations, _ := totals.snapshot()

	switch {
	case ctx.Err() != nil:
		h.logger.Info("scan cancelled", "task_id", task.ID, "scanned", scanned)
		h.finalize(task, models.ScanStatusCancelled, scanned, violations, totals, "cancelled", started)
	case totals.succeededCount == 0 && len(cfg.Platforms) > 0:
		h.logger.Warn("scan failed on every platform", "task_id", task.ID)
		h.finalize(task, models.ScanStatusFailed, scanned, violations, totals, "all platforms failed", started)
	default:
		h.logger.Info("scan completed", "task_id", task.ID,
			"scanned", scanned, "violations", violations, "elapsed", time.Since(started))
		h.finalize(task, models.ScanStatusCompleted, scanned, violations, totals, "", started)
	}
}

// finalize persists the terminal state and runs post-scan bookkeeping. It
// uses a fresh context so cancellation does not lose the final write.
func (h *Hunter) finalize(task *models.ScanTask, status models.ScanStatus, scanned, violations int, totals *counters, errMsg string, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failures := totals.failures
	if len(failures) == 0 {
		failures = nil
	}
	if err := h.store.FinishScanTask(ctx, task.ID, status, scanned, violations, failures, errMsg, time.Since(started)); err != nil {
		h.logger.Error("failed to finalize scan task", "task_id", task.ID, "error", err)
	}

	for assetID, count := range totals.byAsset {
		if err := h.store.BumpAssetScanStats(ctx, assetID, count); err != nil {
			h.logger.Error("failed to bump asset scan stats", "asset_id", assetID, "error", err)
		}
	}

	if h.recomputer != nil {
		for key := range totals.sellers {
			if _, err := h.recomputer.Recompute(ctx, key.Platform, key.SellerID); err != nil {
				h.logger.Error("failed to recompute infringer profile",
					"platform", key.Platform, "seller_id", key.SellerID, "error", err)
			}
		}
	}

	percent := 100
	if status != models.ScanStatusCompleted {
		_, _, percent = totals.snapshot()
	}
	h.publish(task.ID, Progress{
		TaskID: task.ID, Status: status, Percent: percent,
		Scanned: scanned, Violations: violations, Phase: "done",
	})
}

// finish handles failures before any worker started.
func (h *Hunter) finish(ctx context.Context, task *models.ScanTask, status models.ScanStatus, failures models.JSONB, errMsg string, started time.Time) {
	if err := h.store.FinishScanTask(ctx, task.ID, status, 0, 0, failures, errMsg, time.Since(started)); err != nil {
		h.logger.Error("failed to finalize scan task", "task_id", task.ID, "error", err)
	}
	h.publish(task.ID, Progress{TaskID: task.ID, Status: status, Phase: "done"})
}

func (h *Hunter) scanPlatform(ctx context.Context, task *models.ScanTask, cfg models.ScanConfig, platform models.Platform, assets []models.Asset, whitelist []models.WhitelistEntry, totals *counters) {
	source, err := h.sources.Get(platform)
	if err != nil {
		totals.recordFailure(platform, err, 0)
		return
	}

	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = keywordsFromAssets(assets)
	}

	resultCount := 0
	for page := 1; page <= cfg.ScanDepth; page++ {
		if ctx.Err() != nil {
			return
		}

		listings, err := h.searchWithRetry(ctx, source, platforms.SearchQuery{
			Keywords: keywords,
			Page:     page,
			PageSize: defaultPageSize,
			PriceMin: cfg.PriceMin,
			PriceMax: cfg.PriceMax,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("platform search failed", "task_id", task.ID, "platform", platform, "error", err)
			totals.recordFailure(platform, err, maxFetchAttempts)
			return
		}

		for i := range listings {
			if ctx.Err() != nil {
				return
			}
			if resultCount >= cfg.MaxResults {
				break
			}
			h.evaluateListing(ctx, task, cfg, &listings[i], assets, whitelist, totals)
			resultCount++
		}

		totals.reportMu.Lock()
		percent := totals.pageDone()
		scanned, violations, _ := totals.snapshot()
		if err := h.store.UpdateScanTaskProgress(ctx, task.ID, percent, scanned, violations); err != nil {
			h.logger.Error("failed to update progress", "task_id", task.ID, "error", err)
		}
		h.publish(task.ID, Progress{
			TaskID: task.ID, Status: models.ScanStatusRunning, Percent: percent,
			Scanned: scanned, Violations: violations,
			Phase: fmt.Sprintf("scanning %s page %d", platform, page),
		})
		totals.reportMu.Unlock()

		if len(listings) == 0 || resultCount >= cfg.MaxResults {
			break
		}
	}

	totals.platformSucceeded()
}

func (h *Hunter) evaluateListing(ctx context.Context, task *models.ScanTask, cfg models.ScanConfig, listing *models.Listing, assets []models.Asset, whitelist []models.WhitelistEntry, totals *counters) {
	totals.recordListing()

	// whitelisted sellers are suppressed before scoring and never produce
	// a violation
	if sellerWhitelisted(whitelist, listing, time.Now()) {
		return
	}

	fp, err := h.fingerprintListing(ctx, task, listing)
	if err != nil {
		h.logger.Debug("skipping listing", "task_id", task.ID,
			"platform", listing.Platform, "listing_id", listing.ListingID, "error", err)
		return
	}

	bestAsset, bestResult := h.bestMatch(assets, *fp)
	if bestAsset == nil || bestResult.Overall < cfg.SimilarityThreshold {
		return
	}

	// asset-scoped whitelist entries can only be resolved once the match
	// is known; they suppress persistence all the same
	if whitelisted(whitelist, listing, bestAsset.ID, time.Now()) {
		return
	}

	violation := &models.Violation{
		AssetID:      bestAsset.ID,
		TaskID:       task.ID,
		Platform:     listing.Platform,
		ListingID:    listing.ListingID,
		Title:        listing.Title,
		URL:          listing.URL,
		ThumbnailURL: listing.ThumbnailURL,
		Price:        listing.Price,
		Currency:     listing.Currency,
		SellerID:     listing.SellerID,
		SellerName:   listing.SellerName,
		SellerURL:    listing.SellerURL,
		SalesCount:   listing.SalesCount,
		Overall:      bestResult.Overall,
		PHashScore:   bestResult.PHashScore,
		ORBScore:     bestResult.ORBScore,
		ColorScore:   bestResult.ColorScore,
		Level:        bestResult.Level,
		Evidence: models.JSONB{
			"phash_distance": bestResult.PHashDistance,
			"orb_matches":    bestResult.ORBMatches,
			"image_url":      listing.ImageURL,
		},
	}

	inserted, err := h.store.CreateViolation(ctx, violation)
	if err != nil {
		h.logger.Error("failed to record violation", "task_id", task.ID,
			"listing_id", listing.ListingID, "error", err)
		return
	}
	if !inserted {
		// already recorded by an earlier scan; the existing row is
		// immutable and this task's counter must match its own rows
		return
	}

	totals.recordViolation(bestAsset.ID, models.InfringerKey{
		Platform: listing.Platform, SellerID: listing.SellerID,
	})
}

func (h *Hunter) fingerprintListing(ctx context.Context, task *models.ScanTask, listing *models.Listing) (*models.Fingerprint, error) {
	if h.cache != nil {
		if fp, ok := h.cache.GetFingerprint(ctx, listing.ImageURL); ok {
			return fp, nil
		}
	}

	source, err := h.sources.Get(listing.Platform)
	if err != nil {
		return nil, err
	}

	data, err := h.fetchWithRetry(ctx, source, listing)
	if err != nil {
		return nil, err
	}

	info, err := h.generator.Generate(data)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		h.cache.SetFingerprint(ctx, listing.ImageURL, info.Fingerprint)
	}
	return &info.Fingerprint, nil
}

func (h *Hunter) bestMatch(assets []models.Asset, candidate models.Fingerprint) (*models.Asset, models.SimilarityResult) {
	var best *models.Asset
	var bestResult models.SimilarityResult

	for i := range assets {
		result, err := h.matcher.Compare(assets[i].Fingerprint(), candidate)
		if err != nil {
			h.logger.Warn("fingerprint comparison failed", "asset_id", assets[i].ID, "error", err)
			continue
		}
		if best == nil || result.Overall > bestResult.Overall {
			best = &assets[i]
			bestResult = result
		}
	}
	return best, bestResult
}

func (h *Hunter) searchWithRetry(ctx context.Context, source platforms.ListingSource, query platforms.SearchQuery) ([]models.Listing, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		listings, err := source.Search(ctx, query)
		if err == nil {
			return listings, nil
		}
		lastErr = err
		if !models.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (h *Hunter) fetchWithRetry(ctx context.Context, source platforms.ListingSource, listing *models.Listing) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		data, err := source.FetchImage(ctx, listing)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !models.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return baseBackoff << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *Hunter) publish(taskID uuid.UUID, snapshot Progress) {
	if h.publisher != nil {
		h.publisher.Publish(taskID, snapshot)
	}
}

// keywordsFromAssets derives search terms from asset metadata for visual
// scans created without explicit keywords.
func keywordsFromAssets(assets []models.Asset) []string {
	seen := make(map[string]bool)
	var keywords []string
	add := func(kw string) {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" && !seen[kw] {
			seen[kw] = true
			keywords = append(keywords, kw)
		}
	}
	for _, a := range assets {
		add(a.BrandName)
		for _, tag := range a.Tags {
			add(tag)
		}
	}
	sort.Strings(keywords)
	return keywords
}

// sellerWhitelisted reports whether an active entry with no asset scope
// covers the listing's (platform, seller) pair.
func sellerWhitelisted(entries []models.WhitelistEntry, listing *models.Listing, now time.Time) bool {
	for i := range entries {
		e := &entries[i]
		if e.Platform != listing.Platform || e.SellerID != listing.SellerID {
			continue
		}
		if e.AssetID == nil && e.Active(now) {
			return true
		}
	}
	return false
}

// whitelisted reports whether any active whitelist entry covers the listing
// for the matched asset.
func whitelisted(entries []models.WhitelistEntry, listing *models.Listing, assetID uuid.UUID, now time.Time) bool {
	for i := range entries {
		e := &entries[i]
		if e.Platform != listing.Platform || e.SellerID != listing.SellerID {
			continue
		}
		if e.Active(now) && e.Covers(assetID) {
			return true
		}
	}
	return false
}
