package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type Platform string

const (
	PlatformShopee Platform = "shopee"
	PlatformRuten  Platform = "ruten"
	PlatformYahoo  Platform = "yahoo"
	PlatformOther  Platform = "other"
)

type AssetStatus string

const (
	AssetStatusUploaded   AssetStatus = "uploaded"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusIndexed    AssetStatus = "indexed"
	AssetStatusMonitoring AssetStatus = "monitoring"
	AssetStatusArchived   AssetStatus = "archived"
)

type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further state changes are allowed.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

type ScanMode string

const (
	ScanModeKeyword ScanMode = "keyword"
	ScanModeVisual  ScanMode = "visual"
	ScanModeHybrid  ScanMode = "hybrid"
)

type SimilarityLevel string

const (
	SimilarityExact  SimilarityLevel = "exact"
	SimilarityHigh   SimilarityLevel = "high"
	SimilarityMedium SimilarityLevel = "medium"
	SimilarityLow    SimilarityLevel = "low"
)

type CaseStatus string

const (
	CaseStatusDetected    CaseStatus = "detected"
	CaseStatusReviewing   CaseStatus = "reviewing"
	CaseStatusWarningSent CaseStatus = "warning_sent"
	CaseStatusReported    CaseStatus = "reported"
	CaseStatusResolved    CaseStatus = "resolved"
	CaseStatusDismissed   CaseStatus = "dismissed"
)

// Terminal reports whether the case can no longer change status.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusResolved || s == CaseStatusDismissed
}

type CasePriority string

const (
	PriorityLow    CasePriority = "low"
	PriorityMedium CasePriority = "medium"
	PriorityHigh   CasePriority = "high"
	PriorityUrgent CasePriority = "urgent"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type WarningLevel string

const (
	WarningFriendly WarningLevel = "friendly"
	WarningFormal   WarningLevel = "formal"
	WarningLegal    WarningLevel = "legal"
)

type LetterStatus string

const (
	LetterStatusDraft     LetterStatus = "draft"
	LetterStatusSent      LetterStatus = "sent"
	LetterStatusResponded LetterStatus = "responded"
)

type ReportType string

const (
	ReportCopyright   ReportType = "copyright"
	ReportTrademark   ReportType = "trademark"
	ReportCounterfeit ReportType = "counterfeit"
)

type ReportStatus string

const (
	ReportStatusDraft      ReportStatus = "draft"
	ReportStatusSubmitted  ReportStatus = "submitted"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusResolved   ReportStatus = "resolved"
	ReportStatusRejected   ReportStatus = "rejected"
)

type CaseEventType string

const (
	EventCaseCreated      CaseEventType = "created"
	EventStatusChanged    CaseEventType = "status_changed"
	EventLetterSent       CaseEventType = "letter_sent"
	EventReportFiled      CaseEventType = "report_filed"
	EventResponseReceived CaseEventType = "response_received"
	EventEvidenceAdded    CaseEventType = "evidence_added"
	EventNoteAdded        CaseEventType = "note_added"
	EventResolved         CaseEventType = "resolved"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Fingerprint is the visual identity of an image: a 64-bit perceptual hash
// plus optional ORB keypoint descriptors and an HSV color histogram.
// Immutable once computed; recomputation replaces the whole value.
type Fingerprint struct {
	PHash          string `json:"phash" db:"phash"`                               // 16 hex chars, 64 bits
	ORBDescriptors string `json:"orb_descriptors,omitempty" db:"orb_descriptors"` // base64, 32-byte rows
	ColorHistogram string `json:"color_histogram,omitempty" db:"color_histogram"` // base64 float32 bins
	FeatureCount   int    `json:"feature_count,omitempty" db:"feature_count"`
}

// Empty reports whether no fingerprint has been computed yet.
func (f Fingerprint) Empty() bool {
	return f.PHash == ""
}

type Asset struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	UserID          uuid.UUID   `json:"user_id" db:"user_id"`
	FileName        string      `json:"file_name" db:"file_name"`
	OriginalURL     string      `json:"original_url" db:"original_url"`
	ThumbnailURL    string      `json:"thumbnail_url" db:"thumbnail_url"`
	FileSize        int64       `json:"file_size" db:"file_size"`
	Width           int         `json:"width" db:"width"`
	Height          int         `json:"height" db:"height"`
	PHash           string      `json:"phash" db:"phash"`
	ORBDescriptors  string      `json:"orb_descriptors,omitempty" db:"orb_descriptors"`
	ColorHistogram  string      `json:"color_histogram,omitempty" db:"color_histogram"`
	FeatureCount    int         `json:"feature_count" db:"feature_count"`
	Tags            StringArray `json:"tags" db:"tags"`
	ProductSKU      string      `json:"product_sku,omitempty" db:"product_sku"`
	BrandName       string      `json:"brand_name,omitempty" db:"brand_name"`
	Description     string      `json:"description,omitempty" db:"description"`
	Status          AssetStatus `json:"status" db:"status"`
	TotalScans      int         `json:"total_scans" db:"total_scans"`
	ViolationsFound int         `json:"violations_found" db:"violations_found"`
	LastScanAt      *time.Time  `json:"last_scan_at,omitempty" db:"last_scan_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// Fingerprint assembles the asset's fingerprint columns into a value.
func (a *Asset) Fingerprint() Fingerprint {
	return Fingerprint{
		PHash:          a.PHash,
		ORBDescriptors: a.ORBDescriptors,
		ColorHistogram: a.ColorHistogram,
		FeatureCount:   a.FeatureCount,
	}
}

// SetFingerprint replaces the fingerprint columns atomically with the asset row.
func (a *Asset) SetFingerprint(f Fingerprint) {
	a.PHash = f.PHash
	a.ORBDescriptors = f.ORBDescriptors
	a.ColorHistogram = f.ColorHistogram
	a.FeatureCount = f.FeatureCount
}

// WhitelistEntry pre-authorizes a (platform, seller) pair. An entry with a nil
// AssetID applies platform-wide for that seller; otherwise it is scoped to one
// asset. Expired entries never suppress.
type WhitelistEntry struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	AssetID    *uuid.UUID `json:"asset_id,omitempty" db:"asset_id"`
	Platform   Platform   `json:"platform" db:"platform"`
	SellerID   string     `json:"seller_id" db:"seller_id"`
	SellerName string     `json:"seller_name" db:"seller_name"`
	StoreURL   string     `json:"store_url,omitempty" db:"store_url"`
	Notes      string     `json:"notes,omitempty" db:"notes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Active reports whether the entry suppresses matches at the given instant.
func (w *WhitelistEntry) Active(now time.Time) bool {
	return w.ExpiresAt == nil || w.ExpiresAt.After(now)
}

// Covers reports whether the entry applies to the given asset.
func (w *WhitelistEntry) Covers(assetID uuid.UUID) bool {
	return w.AssetID == nil || *w.AssetID == assetID
}

type ScanConfig struct {
	AssetIDs            []uuid.UUID `json:"asset_ids"`
	Platforms           []Platform  `json:"platforms"`
	Mode                ScanMode    `json:"mode"`
	Keywords            []string    `json:"keywords"`
	SimilarityThreshold float64     `json:"similarity_threshold"`
	MaxResults          int         `json:"max_results"`
	ScanDepth           int         `json:"scan_depth"`
	PriceMin            float64     `json:"price_min,omitempty"`
	PriceMax            float64     `json:"price_max,omitempty"`
}

type ScanTask struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	UserID           uuid.UUID   `json:"user_id" db:"user_id"`
	Mode             ScanMode    `json:"mode" db:"mode"`
	Status           ScanStatus  `json:"status" db:"status"`
	AssetIDs         StringArray `json:"asset_ids" db:"asset_ids"`
	Platforms        StringArray `json:"platforms" db:"platforms"`
	Keywords         StringArray `json:"keywords" db:"keywords"`
	Threshold        float64     `json:"similarity_threshold" db:"similarity_threshold"`
	MaxResults       int         `json:"max_results" db:"max_results"`
	ScanDepth        int         `json:"scan_depth" db:"scan_depth"`
	Progress         int         `json:"progress" db:"progress"`
	TotalScanned     int         `json:"total_scanned" db:"total_scanned"`
	ViolationsFound  int         `json:"violations_found" db:"violations_found"`
	PlatformFailures JSONB       `json:"platform_failures,omitempty" db:"platform_failures"`
	Error            string      `json:"error,omitempty" db:"error"`
	ExecutionTimeMs  int64       `json:"execution_time_ms" db:"execution_time_ms"`
	StartedAt        *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// Config reconstructs the scan configuration persisted on the task row.
func (t *ScanTask) Config() ScanConfig {
	cfg := ScanConfig{
		Mode:                t.Mode,
		Keywords:            t.Keywords,
		SimilarityThreshold: t.Threshold,
		MaxResults:          t.MaxResults,
		ScanDepth:           t.ScanDepth,
	}
	for _, raw := range t.AssetIDs {
		if id, err := uuid.Parse(raw); err == nil {
			cfg.AssetIDs = append(cfg.AssetIDs, id)
		}
	}
	for _, p := range t.Platforms {
		cfg.Platforms = append(cfg.Platforms, Platform(p))
	}
	return cfg
}

// SimilarityResult carries the per-channel sub-scores and the overall weighted
// score for one (asset, candidate) comparison. ORBScore and ColorScore are nil
// when the corresponding channel was unavailable on either side.
type SimilarityResult struct {
	Overall       float64         `json:"overall"`
	PHashScore    float64         `json:"phash_score"`
	PHashDistance int             `json:"phash_distance"`
	ORBScore      *float64        `json:"orb_score,omitempty"`
	ORBMatches    int             `json:"orb_matches,omitempty"`
	ColorScore    *float64        `json:"color_score,omitempty"`
	Level         SimilarityLevel `json:"level"`
}

type Listing struct {
	ListingID    string   `json:"listing_id"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	ImageURL     string   `json:"image_url"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Price        float64  `json:"price"`
	Currency     string   `json:"currency"`
	SellerID     string   `json:"seller_id"`
	SellerName   string   `json:"seller_name"`
	SellerURL    string   `json:"seller_url"`
	SalesCount   int      `json:"sales_count,omitempty"`
	Rating       float64  `json:"rating,omitempty"`
	Platform     Platform `json:"platform"`
}

// Violation is an immutable detection record. The listing snapshot and
// similarity result are denormalized at detection time and never updated.
type Violation struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AssetID      uuid.UUID       `json:"asset_id" db:"asset_id"`
	TaskID       uuid.UUID       `json:"task_id" db:"task_id"`
	Platform     Platform        `json:"platform" db:"platform"`
	ListingID    string          `json:"listing_id" db:"listing_id"`
	Title        string          `json:"title" db:"title"`
	URL          string          `json:"url" db:"url"`
	ThumbnailURL string          `json:"thumbnail_url" db:"thumbnail_url"`
	Price        float64         `json:"price" db:"price"`
	Currency     string          `json:"currency" db:"currency"`
	SellerID     string          `json:"seller_id" db:"seller_id"`
	SellerName   string          `json:"seller_name" db:"seller_name"`
	SellerURL    string          `json:"seller_url" db:"seller_url"`
	SalesCount   int             `json:"sales_count" db:"sales_count"`
	Overall      float64         `json:"overall" db:"overall"`
	PHashScore   float64         `json:"phash_score" db:"phash_score"`
	ORBScore     *float64        `json:"orb_score,omitempty" db:"orb_score"`
	ColorScore   *float64        `json:"color_score,omitempty" db:"color_score"`
	Level        SimilarityLevel `json:"level" db:"level"`
	Whitelisted  bool            `json:"whitelisted" db:"whitelisted"`
	CaseID       *uuid.UUID      `json:"case_id,omitempty" db:"case_id"`
	Evidence     JSONB           `json:"evidence,omitempty" db:"evidence"`
	DetectedAt   time.Time       `json:"detected_at" db:"detected_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// InfringerKey identifies a seller on one platform. All violations grouped
// into a case must share one key.
type InfringerKey struct {
	Platform Platform `json:"platform"`
	SellerID string   `json:"seller_id"`
}

// InfringerProfile is a derived aggregate over the violation set for one
// seller. It is recomputed, never authored.
type InfringerProfile struct {
	Platform         Platform   `json:"platform" db:"platform"`
	SellerID         string     `json:"seller_id" db:"seller_id"`
	SellerName       string     `json:"seller_name" db:"seller_name"`
	ProfileURL       string     `json:"profile_url" db:"profile_url"`
	ViolationCount   int        `json:"violation_count" db:"violation_count"`
	EstimatedRevenue float64    `json:"estimated_revenue" db:"estimated_revenue"`
	AveragePrice     float64    `json:"average_price" db:"average_price"`
	TotalSales       int        `json:"total_sales" db:"total_sales"`
	RiskScore        float64    `json:"risk_score" db:"risk_score"`
	RiskLevel        RiskLevel  `json:"risk_level" db:"risk_level"`
	FirstDetectedAt  time.Time  `json:"first_detected_at" db:"first_detected_at"`
	LastDetectedAt   time.Time  `json:"last_detected_at" db:"last_detected_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Key returns the grouping identity of the profile.
func (p *InfringerProfile) Key() InfringerKey {
	return InfringerKey{Platform: p.Platform, SellerID: p.SellerID}
}

type LegalCase struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	UserID     uuid.UUID    `json:"user_id" db:"user_id"`
	CaseNumber string       `json:"case_number" db:"case_number"`
	Status     CaseStatus   `json:"status" db:"status"`
	Priority   CasePriority `json:"priority" db:"priority"`
	Platform   Platform     `json:"platform" db:"platform"`
	SellerID   string       `json:"seller_id" db:"seller_id"`
	SellerName string       `json:"seller_name" db:"seller_name"`
	Notes      string       `json:"notes" db:"notes"`
	AssignedTo string       `json:"assigned_to,omitempty" db:"assigned_to"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// InfringerKey returns the seller identity the case targets.
func (c *LegalCase) InfringerKey() InfringerKey {
	return InfringerKey{Platform: c.Platform, SellerID: c.SellerID}
}

type CaseEvent struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	CaseID      uuid.UUID     `json:"case_id" db:"case_id"`
	EventType   CaseEventType `json:"event_type" db:"event_type"`
	Description string        `json:"description" db:"description"`
	Metadata    JSONB         `json:"metadata,omitempty" db:"metadata"`
	CreatedBy   string        `json:"created_by" db:"created_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

type WarningLetter struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	CaseID     uuid.UUID    `json:"case_id" db:"case_id"`
	Level      WarningLevel `json:"level" db:"level"`
	TemplateID string       `json:"template_id" db:"template_id"`
	Subject    string       `json:"subject" db:"subject"`
	Content    string       `json:"content" db:"content"`
	Variables  JSONB        `json:"variables" db:"variables"`
	Status     LetterStatus `json:"status" db:"status"`
	SentVia    string       `json:"sent_via,omitempty" db:"sent_via"`
	SentAt     *time.Time   `json:"sent_at,omitempty" db:"sent_at"`
	Response   string       `json:"response,omitempty" db:"response"`
	ResponseAt *time.Time   `json:"response_at,omitempty" db:"response_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

type OfficialReport struct {
	ID                 uuid.UUID    `json:"id" db:"id"`
	CaseID             uuid.UUID    `json:"case_id" db:"case_id"`
	Platform           Platform     `json:"platform" db:"platform"`
	ReportType         ReportType   `json:"report_type" db:"report_type"`
	Content            string       `json:"content" db:"content"`
	Status             ReportStatus `json:"status" db:"status"`
	ConfirmationNumber string       `json:"confirmation_number,omitempty" db:"confirmation_number"`
	SubmittedAt        *time.Time   `json:"submitted_at,omitempty" db:"submitted_at"`
	PlatformResponse   string       `json:"platform_response,omitempty" db:"platform_response"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
}
