package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=guardian password=guardian_password dbname=guardian_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

func TestStore_Assets(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	userID := uuid.New()

	asset := &models.Asset{
		UserID:      userID,
		FileName:    "product-front.jpg",
		OriginalURL: "s3://guardian-assets/product-front.jpg",
		FileSize:    204800,
		Width:       1200,
		Height:      900,
		Tags:        models.StringArray{"sneakers", "spring"},
		BrandName:   "Acme",
	}

	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if asset.ID == uuid.Nil {
		t.Error("Expected asset ID to be set")
	}
	if asset.Status != models.AssetStatusUploaded {
		t.Errorf("Expected status uploaded, got %s", asset.Status)
	}

	retrieved, err := store.GetAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if retrieved.FileName != asset.FileName {
		t.Errorf("Expected file name %s, got %s", asset.FileName, retrieved.FileName)
	}

	// Fingerprint update moves the asset to indexed
	fp := models.Fingerprint{PHash: "a1b2c3d4e5f60718", FeatureCount: 0}
	if err := store.UpdateAssetFingerprint(ctx, asset.ID, fp, 1200, 900); err != nil {
		t.Fatalf("UpdateAssetFingerprint failed: %v", err)
	}
	retrieved, err = store.GetAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if retrieved.Status != models.AssetStatusIndexed {
		t.Errorf("Expected status indexed, got %s", retrieved.Status)
	}
	if retrieved.PHash != fp.PHash {
		t.Errorf("Expected phash %s, got %s", fp.PHash, retrieved.PHash)
	}

	// List with filters
	status := models.AssetStatusIndexed
	assets, total, err := store.ListAssets(ctx, ListAssetFilters{UserID: &userID, Status: &status})
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}
	if total < 1 || len(assets) < 1 {
		t.Error("Expected at least one indexed asset")
	}

	// Scan stat bump
	if err := store.BumpAssetScanStats(ctx, asset.ID, 3); err != nil {
		t.Fatalf("BumpAssetScanStats failed: %v", err)
	}
	retrieved, _ = store.GetAsset(ctx, asset.ID)
	if retrieved.TotalScans != 1 || retrieved.ViolationsFound != 3 {
		t.Errorf("Expected scan stats 1/3, got %d/%d", retrieved.TotalScans, retrieved.ViolationsFound)
	}

	if err := store.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	gone, err := store.GetAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetAsset after delete failed: %v", err)
	}
	if gone != nil {
		t.Error("Expected asset to be deleted")
	}
}

func TestStore_ScanTasks(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	userID := uuid.New()

	task := &models.ScanTask{
		UserID:     userID,
		Mode:       models.ScanModeHybrid,
		AssetIDs:   models.StringArray{uuid.New().String()},
		Platforms:  models.StringArray{"shopee", "ruten"},
		Keywords:   models.StringArray{"acme sneakers"},
		Threshold:  70,
		MaxResults: 100,
		ScanDepth:  3,
	}

	if err := store.CreateScanTask(ctx, task); err != nil {
		t.Fatalf("CreateScanTask failed: %v", err)
	}
	if task.Status != models.ScanStatusQueued {
		t.Errorf("Expected status queued, got %s", task.Status)
	}

	// Only the first start attempt wins
	started, err := store.MarkScanTaskRunning(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkScanTaskRunning failed: %v", err)
	}
	if !started {
		t.Error("Expected first start to succeed")
	}
	started, err = store.MarkScanTaskRunning(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkScanTaskRunning failed: %v", err)
	}
	if started {
		t.Error("Expected second start to be rejected")
	}

	// Progress is monotonic
	if err := store.UpdateScanTaskProgress(ctx, task.ID, 40, 10, 1); err != nil {
		t.Fatalf("UpdateScanTaskProgress failed: %v", err)
	}
	if err := store.UpdateScanTaskProgress(ctx, task.ID, 20, 12, 1); err != nil {
		t.Fatalf("UpdateScanTaskProgress failed: %v", err)
	}
	retrieved, err := store.GetScanTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetScanTask failed: %v", err)
	}
	if retrieved.Progress != 40 {
		t.Errorf("Expected progress to hold at 40, got %d", retrieved.Progress)
	}

	err = store.FinishScanTask(ctx, task.ID, models.ScanStatusCompleted, 50, 4, nil, "", 3*time.Second)
	if err != nil {
		t.Fatalf("FinishScanTask failed: %v", err)
	}
	retrieved, _ = store.GetScanTask(ctx, task.ID)
	if retrieved.Status != models.ScanStatusCompleted {
		t.Errorf("Expected status completed, got %s", retrieved.Status)
	}
	if retrieved.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", retrieved.Progress)
	}
}

func TestStore_Violations(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	userID := uuid.New()

	asset := &models.Asset{UserID: userID, FileName: "a.jpg", OriginalURL: "s3://x/a.jpg"}
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}

	task := &models.ScanTask{UserID: userID, Mode: models.ScanModeVisual, Platforms: models.StringArray{"shopee"}}
	if err := store.CreateScanTask(ctx, task); err != nil {
		t.Fatalf("CreateScanTask failed: %v", err)
	}

	v := &models.Violation{
		AssetID:    asset.ID,
		TaskID:     task.ID,
		Platform:   models.PlatformShopee,
		ListingID:  "item-9001",
		Title:      "Cheap Acme Sneakers",
		URL:        "https://shopee.example/item/9001",
		Price:      12.99,
		Currency:   "TWD",
		SellerID:   "seller-77",
		SellerName: "discount-store",
		Overall:    96.5,
		PHashScore: 98.4,
		Level:      models.SimilarityExact,
	}
	inserted, err := store.CreateViolation(ctx, v)
	if err != nil {
		t.Fatalf("CreateViolation failed: %v", err)
	}
	if !inserted {
		t.Fatal("Expected first CreateViolation to insert")
	}

	// Re-detection of the same listing is a no-op: persisted violations
	// are immutable
	v2 := *v
	v2.ID = uuid.Nil
	v2.Overall = 97.1
	inserted, err = store.CreateViolation(ctx, &v2)
	if err != nil {
		t.Fatalf("CreateViolation (re-detection) failed: %v", err)
	}
	if inserted {
		t.Error("Expected re-detection to be a no-op insert")
	}

	level := models.SimilarityExact
	violations, total, err := store.ListViolations(ctx, ListViolationFilters{AssetID: &asset.ID, Level: &level})
	if err != nil {
		t.Fatalf("ListViolations failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 violation after re-detection, got %d", total)
	}
	if len(violations) == 1 && violations[0].Overall != 96.5 {
		t.Errorf("Expected original overall 96.5 untouched, got %.1f", violations[0].Overall)
	}
	if len(violations) == 1 && violations[0].TaskID != task.ID {
		t.Errorf("Expected original task id retained, got %s", violations[0].TaskID)
	}

	bySeller, err := store.ListViolationsBySeller(ctx, models.PlatformShopee, "seller-77")
	if err != nil {
		t.Fatalf("ListViolationsBySeller failed: %v", err)
	}
	if len(bySeller) != 1 {
		t.Errorf("Expected 1 violation for seller, got %d", len(bySeller))
	}
}

func TestStore_CaseNumberSequence(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	first, err := store.NextCaseNumber(ctx, now)
	if err != nil {
		t.Fatalf("NextCaseNumber failed: %v", err)
	}

	c := &models.LegalCase{
		UserID:     uuid.New(),
		CaseNumber: first,
		Platform:   models.PlatformRuten,
		SellerID:   "seller-1",
		SellerName: "some store",
	}
	if err := store.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}

	second, err := store.NextCaseNumber(ctx, now)
	if err != nil {
		t.Fatalf("NextCaseNumber failed: %v", err)
	}
	if second == first {
		t.Errorf("Expected a fresh case number, got %s twice", first)
	}
}

func TestStore_CaseNumberConcurrent(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	const workers = 8

	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := store.NextCaseNumber(ctx, now)
			if err != nil {
				t.Errorf("NextCaseNumber failed: %v", err)
				return
			}
			numbers <- num
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for num := range numbers {
		if seen[num] {
			t.Errorf("Case number %s allocated twice", num)
		}
		seen[num] = true
	}
}

func TestStore_CaseLifecycle(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()

	num, err := store.NextCaseNumber(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextCaseNumber failed: %v", err)
	}
	c := &models.LegalCase{
		UserID:     uuid.New(),
		CaseNumber: num,
		Platform:   models.PlatformShopee,
		SellerID:   "seller-42",
		SellerName: "knockoffs r us",
	}
	if err := store.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if c.Status != models.CaseStatusDetected {
		t.Errorf("Expected status detected, got %s", c.Status)
	}

	event := &models.CaseEvent{
		CaseID:      c.ID,
		EventType:   models.EventCaseCreated,
		Description: "case opened",
		CreatedBy:   "system",
	}
	if err := store.AppendCaseEvent(ctx, event); err != nil {
		t.Fatalf("AppendCaseEvent failed: %v", err)
	}

	if err := store.UpdateCaseStatus(ctx, c.ID, models.CaseStatusResolved); err != nil {
		t.Fatalf("UpdateCaseStatus failed: %v", err)
	}
	retrieved, err := store.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if retrieved.ResolvedAt == nil {
		t.Error("Expected resolved_at to be set for terminal status")
	}

	events, err := store.ListCaseEvents(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListCaseEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events))
	}
}

func TestStore_InfringerProfiles(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	p := &models.InfringerProfile{
		Platform:         models.PlatformYahoo,
		SellerID:         "seller-sp-1",
		SellerName:       "bulk deals",
		ViolationCount:   6,
		EstimatedRevenue: 120000,
		RiskScore:        90,
		RiskLevel:        models.RiskCritical,
		FirstDetectedAt:  now.Add(-48 * time.Hour),
		LastDetectedAt:   now,
	}
	if err := store.UpsertInfringerProfile(ctx, p); err != nil {
		t.Fatalf("UpsertInfringerProfile failed: %v", err)
	}

	// Recompute overwrites
	p.ViolationCount = 7
	p.RiskScore = 95
	if err := store.UpsertInfringerProfile(ctx, p); err != nil {
		t.Fatalf("UpsertInfringerProfile (update) failed: %v", err)
	}

	retrieved, err := store.GetInfringerProfile(ctx, models.PlatformYahoo, "seller-sp-1")
	if err != nil {
		t.Fatalf("GetInfringerProfile failed: %v", err)
	}
	if retrieved == nil || retrieved.ViolationCount != 7 {
		t.Error("Expected upsert to overwrite the profile")
	}

	risk := models.RiskCritical
	profiles, total, err := store.ListInfringerProfiles(ctx, ListInfringerFilters{RiskLevel: &risk})
	if err != nil {
		t.Fatalf("ListInfringerProfiles failed: %v", err)
	}
	if total < 1 || len(profiles) < 1 {
		t.Error("Expected at least one critical profile")
	}
}
