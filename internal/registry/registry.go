// Package registry manages the protected asset catalog: upload, fingerprint
// indexing, metadata, and the seller whitelist.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/fingerprint"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/storage"
	"github.com/imageguard/guardian/internal/store"
)

const (
	maxUploadBytes = 20 << 20
	maxTags        = 20
)

// Store is the persistence surface the registry needs.
type Store interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	ListAssets(ctx context.Context, filters store.ListAssetFilters) ([]models.Asset, int, error)
	UpdateAssetMetadata(ctx context.Context, id uuid.UUID, tags []string, sku, brand, description string) error
	UpdateAssetStatus(ctx context.Context, id uuid.UUID, status models.AssetStatus) error
	UpdateAssetFingerprint(ctx context.Context, id uuid.UUID, fp models.Fingerprint, width, height int) error
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	CountViolationsByAsset(ctx context.Context, assetID uuid.UUID) (int, error)

	CreateWhitelistEntry(ctx context.Context, entry *models.WhitelistEntry) error
	ListWhitelistEntries(ctx context.Context, userID uuid.UUID) ([]models.WhitelistEntry, error)
	DeleteWhitelistEntry(ctx context.Context, id uuid.UUID) error
}

// Enqueuer schedules background fingerprint jobs. A nil Enqueuer makes
// registration fingerprint synchronously.
type Enqueuer interface {
	EnqueueFingerprint(ctx context.Context, assetID uuid.UUID) error
}

type Service struct {
	store     Store
	blobs     storage.BlobStore
	generator *fingerprint.Generator
	enqueuer  Enqueuer
	logger    *slog.Logger
}

func NewService(st Store, blobs storage.BlobStore, gen *fingerprint.Generator, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, blobs: blobs, generator: gen, enqueuer: enqueuer, logger: logger}
}

// RegisterRequest carries an asset upload.
type RegisterRequest struct {
	UserID      uuid.UUID
	FileName    string
	Data        []byte
	Tags        []string
	ProductSKU  string
	BrandName   string
	Description string
}

func (r *RegisterRequest) validate() error {
	verr := &models.ValidationError{}
	if r.UserID == uuid.Nil {
		verr.Add("user_id is required")
	}
	if strings.TrimSpace(r.FileName) == "" {
		verr.Add("file_name is required")
	}
	if len(r.Data) == 0 {
		verr.Add("image data is empty")
	}
	if len(r.Data) > maxUploadBytes {
		verr.Add("image exceeds maximum size of %d bytes", maxUploadBytes)
	}
	if len(r.Tags) > maxTags {
		verr.Add("at most %d tags are allowed", maxTags)
	}
	for _, tag := range r.Tags {
		if strings.TrimSpace(tag) == "" {
			verr.Add("tags must be non-empty")
			break
		}
	}
	return verr.Err()
}

// Register validates and stores an upload, then indexes its fingerprint.
// With an enqueuer the fingerprint is computed by a background worker and
// the asset stays in processing until it lands.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Asset, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Reject undecodable uploads before anything is persisted.
	info, err := s.generator.Generate(req.Data)
	if err != nil {
		return nil, err
	}

	asset := &models.Asset{
		UserID:      req.UserID,
		FileName:    path.Base(req.FileName),
		FileSize:    int64(len(req.Data)),
		Width:       info.Width,
		Height:      info.Height,
		Tags:        models.StringArray(req.Tags),
		ProductSKU:  req.ProductSKU,
		BrandName:   req.BrandName,
		Description: req.Description,
		Status:      models.AssetStatusProcessing,
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("creating asset: %w", err)
	}

	key := blobKey(asset.UserID, asset.ID, asset.FileName)
	url, err := s.blobs.Put(ctx, key, req.Data, contentTypeFor(info.Format))
	if err != nil {
		// roll back the orphaned row
		if derr := s.store.DeleteAsset(ctx, asset.ID); derr != nil {
			s.logger.Error("failed to clean up asset after blob write failure",
				"asset_id", asset.ID, "error", derr)
		}
		return nil, fmt.Errorf("storing image: %w", err)
	}
	asset.OriginalURL = url

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueFingerprint(ctx, asset.ID); err != nil {
			s.logger.Warn("fingerprint job enqueue failed, indexing inline",
				"asset_id", asset.ID, "error", err)
			return s.indexNow(ctx, asset, info)
		}
		s.logger.Info("asset registered", "asset_id", asset.ID, "user_id", asset.UserID)
		return asset, nil
	}

	return s.indexNow(ctx, asset, info)
}

func (s *Service) indexNow(ctx context.Context, asset *models.Asset, info *fingerprint.ImageInfo) (*models.Asset, error) {
	if err := s.store.UpdateAssetFingerprint(ctx, asset.ID, info.Fingerprint, info.Width, info.Height); err != nil {
		return nil, fmt.Errorf("indexing fingerprint: %w", err)
	}
	asset.SetFingerprint(info.Fingerprint)
	asset.Status = models.AssetStatusIndexed
	s.logger.Info("asset registered and indexed", "asset_id", asset.ID, "user_id", asset.UserID)
	return asset, nil
}

// ComputeFingerprint reloads the stored image and indexes it. Called by the
// background worker for queued fingerprint jobs and by re-index requests.
func (s *Service) ComputeFingerprint(ctx context.Context, assetID uuid.UUID) error {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return models.ErrNotFound
	}

	data, err := s.blobs.Get(ctx, blobKey(asset.UserID, asset.ID, asset.FileName))
	if err != nil {
		return fmt.Errorf("loading image for asset %s: %w", assetID, err)
	}

	info, err := s.generator.Generate(data)
	if err != nil {
		return fmt.Errorf("fingerprinting asset %s: %w", assetID, err)
	}

	if err := s.store.UpdateAssetFingerprint(ctx, assetID, info.Fingerprint, info.Width, info.Height); err != nil {
		return fmt.Errorf("saving fingerprint for asset %s: %w", assetID, err)
	}
	s.logger.Info("asset indexed", "asset_id", assetID, "phash", info.Fingerprint.PHash)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, models.ErrNotFound
	}
	return asset, nil
}

func (s *Service) List(ctx context.Context, filters store.ListAssetFilters) ([]models.Asset, int, error) {
	return s.store.ListAssets(ctx, filters)
}

// UpdateMetadata replaces the editable metadata of an asset.
func (s *Service) UpdateMetadata(ctx context.Context, id uuid.UUID, tags []string, sku, brand, description string) error {
	if len(tags) > maxTags {
		verr := &models.ValidationError{}
		verr.Add("at most %d tags are allowed", maxTags)
		return verr
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateAssetMetadata(ctx, id, tags, sku, brand, description)
}

// SetMonitoring toggles an indexed asset between indexed and monitoring.
func (s *Service) SetMonitoring(ctx context.Context, id uuid.UUID, enabled bool) error {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if asset.Fingerprint().Empty() {
		verr := &models.ValidationError{}
		verr.Add("asset %s has no fingerprint yet", id)
		return verr
	}

	status := models.AssetStatusIndexed
	if enabled {
		status = models.AssetStatusMonitoring
	}
	return s.store.UpdateAssetStatus(ctx, id, status)
}

// Archive retires an asset from scanning without deleting its history.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateAssetStatus(ctx, id, models.AssetStatusArchived)
}

// Delete removes the asset row and its stored image. An asset referenced by
// recorded violations is archived instead so the detection history keeps a
// valid reference.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	refs, err := s.store.CountViolationsByAsset(ctx, id)
	if err != nil {
		return fmt.Errorf("checking violations for asset %s: %w", id, err)
	}
	if refs > 0 {
		s.logger.Info("asset has recorded violations, archiving instead of deleting",
			"asset_id", id, "violations", refs)
		return s.store.UpdateAssetStatus(ctx, id, models.AssetStatusArchived)
	}

	if err := s.blobs.Delete(ctx, blobKey(asset.UserID, asset.ID, asset.FileName)); err != nil {
		s.logger.Warn("failed to delete asset blob", "asset_id", id, "error", err)
	}
	return s.store.DeleteAsset(ctx, id)
}

// AddWhitelistEntry authorizes a seller for one asset or platform-wide.
func (s *Service) AddWhitelistEntry(ctx context.Context, entry *models.WhitelistEntry) error {
	verr := &models.ValidationError{}
	if entry.UserID == uuid.Nil {
		verr.Add("user_id is required")
	}
	if entry.Platform == "" {
		verr.Add("platform is required")
	}
	if strings.TrimSpace(entry.SellerID) == "" {
		verr.Add("seller_id is required")
	}
	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()) {
		verr.Add("expires_at must be in the future")
	}
	if err := verr.Err(); err != nil {
		return err
	}

	if entry.AssetID != nil {
		if _, err := s.Get(ctx, *entry.AssetID); err != nil {
			return err
		}
	}
	return s.store.CreateWhitelistEntry(ctx, entry)
}

func (s *Service) ListWhitelist(ctx context.Context, userID uuid.UUID) ([]models.WhitelistEntry, error) {
	return s.store.ListWhitelistEntries(ctx, userID)
}

func (s *Service) RemoveWhitelistEntry(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteWhitelistEntry(ctx, id)
}

func blobKey(userID, assetID uuid.UUID, fileName string) string {
	return fmt.Sprintf("assets/%s/%s/%s", userID, assetID, fileName)
}

func contentTypeFor(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
