package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/imageguard/guardian/internal/models"
)

const maxImageBytes = 20 << 20

// HTTPSource talks to a marketplace search gateway over HTTP. Requests pass
// through a per-source rate limiter so one scan cannot hammer a platform.
type HTTPSource struct {
	platform models.Platform
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

type HTTPSourceConfig struct {
	Platform       models.Platform
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPSource{
		platform: cfg.Platform,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

func (s *HTTPSource) Platform() models.Platform {
	return s.platform
}

// searchResponse is the gateway's search payload.
type searchResponse struct {
	Items []struct {
		ID           string  `json:"id"`
		Title        string  `json:"title"`
		URL          string  `json:"url"`
		ImageURL     string  `json:"image_url"`
		ThumbnailURL string  `json:"thumbnail_url"`
		Price        float64 `json:"price"`
		Currency     string  `json:"currency"`
		SellerID     string  `json:"seller_id"`
		SellerName   string  `json:"seller_name"`
		SellerURL    string  `json:"seller_url"`
		SalesCount   int     `json:"sales_count"`
		Rating       float64 `json:"rating"`
	} `json:"items"`
}

func (s *HTTPSource) Search(ctx context.Context, query SearchQuery) ([]models.Listing, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", strings.Join(query.Keywords, " "))
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("page_size", strconv.Itoa(query.PageSize))
	if query.PriceMin > 0 {
		params.Set("price_min", strconv.FormatFloat(query.PriceMin, 'f', 2, 64))
	}
	if query.PriceMax > 0 {
		params.Set("price_max", strconv.FormatFloat(query.PriceMax, 'f', 2, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &models.TransientFetchError{Platform: s.platform, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.platform, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search response from %s: %w", s.platform, err)
	}

	listings := make([]models.Listing, 0, len(payload.Items))
	for _, item := range payload.Items {
		listings = append(listings, models.Listing{
			ListingID:    item.ID,
			Title:        item.Title,
			URL:          item.URL,
			ImageURL:     item.ImageURL,
			ThumbnailURL: item.ThumbnailURL,
			Price:        item.Price,
			Currency:     item.Currency,
			SellerID:     item.SellerID,
			SellerName:   item.SellerName,
			SellerURL:    item.SellerURL,
			SalesCount:   item.SalesCount,
			Rating:       item.Rating,
			Platform:     s.platform,
		})
	}
	return listings, nil
}

func (s *HTTPSource) FetchImage(ctx context.Context, listing *models.Listing) ([]byte, error) {
	if listing.ImageURL == "" {
		return nil, fmt.Errorf("listing %s has no image URL", listing.ListingID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listing.ImageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &models.TransientFetchError{Platform: s.platform, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.platform, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &models.TransientFetchError{Platform: s.platform, Err: err}
	}
	return data, nil
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// classifyStatus maps HTTP status codes to the retry taxonomy: 429 and 5xx
// are transient, everything else non-2xx is permanent.
func classifyStatus(platform models.Platform, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &models.TransientFetchError{
			Platform: platform,
			Err:      fmt.Errorf("status %d", status),
		}
	default:
		return fmt.Errorf("platform %s returned status %d", platform, status)
	}
}
