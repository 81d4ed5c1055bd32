package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/go-chi/chi/v5"
)

// RegistryService is the catalog surface the registry handlers depend on.
type RegistryService interface {
	RegisterProvider(ctx context.Context, provider models.Address, metadataURI string, basePrice int64) (*models.ProviderEntry, error)
	UpdateProviderEntry(ctx context.Context, provider models.Address, metadataURI string, basePrice int64, active bool) (*models.ProviderEntry, error)
	GetProviders(ctx context.Context) ([]*models.ProviderEntry, error)
	GetProviderEntry(ctx context.Context, provider models.Address) (*models.ProviderEntry, error)
}

// NewRegisterProviderHandler returns the handler for
// POST /api/v1/providers.
func NewRegisterProviderHandler(svc RegistryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}

		var req struct {
			MetadataURI string `json:"metadata_uri"`
			BasePrice   int64  `json:"base_price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.MetadataURI == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "metadata_uri is required", nil)
			return
		}

		entry, err := svc.RegisterProvider(r.Context(), addr, req.MetadataURI, req.BasePrice)
		if err != nil {
			writeError(w, err)
			return
		}
		response.Created(w, entry)
	}
}

// NewUpdateProviderHandler returns the handler for
// PUT /api/v1/providers.
func NewUpdateProviderHandler(svc RegistryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}

		var req struct {
			MetadataURI string `json:"metadata_uri"`
			BasePrice   int64  `json:"base_price"`
			Active      bool   `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.MetadataURI == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "metadata_uri is required", nil)
			return
		}

		entry, err := svc.UpdateProviderEntry(r.Context(), addr, req.MetadataURI, req.BasePrice, req.Active)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, entry)
	}
}

// NewListProvidersHandler returns the handler for
// GET /api/v1/providers.
func NewListProvidersHandler(svc RegistryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.GetProviders(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []*models.ProviderEntry{}
		}
		response.JSON(w, entries)
	}
}

// NewGetProviderHandler returns the handler for
// GET /api/v1/providers/{address}.
func NewGetProviderHandler(svc RegistryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := models.ParseAddress(chi.URLParam(r, "address"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "address must be a valid address", nil)
			return
		}

		entry, err := svc.GetProviderEntry(r.Context(), addr)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, entry)
	}
}
