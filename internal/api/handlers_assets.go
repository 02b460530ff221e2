package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/registry"
	"github.com/imageguard/guardian/internal/store"
)

const maxUploadFormSize = 32 << 20 // 32 MB

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	filters := store.ListAssetFilters{
		UserID: &userID,
		Limit:  100,
		Offset: 0,
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filters.Limit = limit
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if offset, err := strconv.Atoi(o); err == nil {
			filters.Offset = offset
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := models.AssetStatus(status)
		filters.Status = &st
	}
	if brand := r.URL.Query().Get("brand"); brand != "" {
		filters.BrandName = &brand
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		filters.Tag = &tag
	}

	assets, total, err := s.registry.List(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, assets, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

// registerAsset accepts a multipart upload with the image under "image" and
// optional metadata fields alongside it.
func (s *Server) registerAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	if err := r.ParseMultipartForm(maxUploadFormSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	asset, err := s.registry.Register(r.Context(), registry.RegisterRequest{
		UserID:      userID,
		FileName:    header.Filename,
		Data:        data,
		Tags:        tags,
		ProductSKU:  r.FormValue("product_sku"),
		BrandName:   r.FormValue("brand_name"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, asset)
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	asset, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

type updateAssetRequest struct {
	Tags        []string `json:"tags"`
	ProductSKU  string   `json:"product_sku"`
	BrandName   string   `json:"brand_name"`
	Description string   `json:"description"`
}

func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	var req updateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.registry.UpdateMetadata(r.Context(), id, req.Tags, req.ProductSKU, req.BrandName, req.Description); err != nil {
		respondServiceError(w, err)
		return
	}

	asset, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

func (s *Server) deleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) archiveAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	if err := s.registry.Archive(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	asset, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

type setMonitoringRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setAssetMonitoring(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	var req setMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.registry.SetMonitoring(r.Context(), id, req.Enabled); err != nil {
		respondServiceError(w, err)
		return
	}

	asset, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

func (s *Server) listAssetViolations(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	filters := store.ListViolationFilters{
		AssetID: &id,
		Limit:   100,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filters.Limit = limit
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if offset, err := strconv.Atoi(o); err == nil {
			filters.Offset = offset
		}
	}

	violations, total, err := s.store.ListViolations(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, violations, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func (s *Server) listWhitelist(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	entries, err := s.registry.ListWhitelist(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

type addWhitelistRequest struct {
	AssetID    *uuid.UUID      `json:"asset_id,omitempty"`
	Platform   models.Platform `json:"platform"`
	SellerID   string          `json:"seller_id"`
	SellerName string          `json:"seller_name"`
	StoreURL   string          `json:"store_url"`
	Notes      string          `json:"notes"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func (s *Server) addWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req addWhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	entry := &models.WhitelistEntry{
		UserID:     userID,
		AssetID:    req.AssetID,
		Platform:   req.Platform,
		SellerID:   req.SellerID,
		SellerName: req.SellerName,
		StoreURL:   req.StoreURL,
		Notes:      req.Notes,
		ExpiresAt:  req.ExpiresAt,
	}

	if err := s.registry.AddWhitelistEntry(r.Context(), entry); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) removeWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entry ID")
		return
	}

	if err := s.registry.RemoveWhitelistEntry(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
