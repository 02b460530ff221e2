// Package platforms abstracts marketplace listing sources. Each platform
// exposes keyword search and image fetch; the hunter drives them through a
// shared registry.
package platforms

import (
	"context"

	"github.com/imageguard/guardian/internal/models"
)

// SearchQuery is one page request against a listing source.
type SearchQuery struct {
	Keywords []string
	Page     int
	PageSize int
	PriceMin float64
	PriceMax float64
}

// ListingSource is a searchable marketplace.
type ListingSource interface {
	// Platform returns the marketplace this source serves.
	Platform() models.Platform

	// Search returns one page of listings. An empty page means the result
	// set is exhausted.
	Search(ctx context.Context, query SearchQuery) ([]models.Listing, error)

	// FetchImage downloads the primary image of a listing.
	FetchImage(ctx context.Context, listing *models.Listing) ([]byte, error)

	// Close releases any resources held by the source.
	Close() error
}
