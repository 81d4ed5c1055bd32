package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// BridgeService is the encrypted-data surface the bridge handlers depend on.
type BridgeService interface {
	SubmitEncryptedInput(ctx context.Context, consumer models.Address, jobID int64, handle models.Hash, proof []byte) (*models.CommitmentRecord, error)
	GrantAccess(ctx context.Context, consumer models.Address, jobID int64, provider models.Address) error
	RevokeAccess(ctx context.Context, consumer models.Address, jobID int64, provider models.Address) error
	SubmitEncryptedResult(ctx context.Context, provider models.Address, jobID int64, handle models.Hash, proof []byte, proofHash models.Hash) (*models.CommitmentRecord, error)
	RequestResultDecryption(ctx context.Context, consumer models.Address, jobID int64) (*models.CommitmentRecord, error)
	FulfillDecryption(ctx context.Context, oracle models.Address, jobID int64, value int64) (*models.CommitmentRecord, error)
	GetRecord(ctx context.Context, jobID int64) (*models.CommitmentRecord, error)
}

// NewSubmitInputHandler returns the handler for
// POST /api/v1/bridge/{jobID}/input.
func NewSubmitInputHandler(svc BridgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Handle string `json:"handle"`
			Proof  string `json:"proof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		handle, proof, ok := parseHandleAndProof(w, req.Handle, req.Proof)
		if !ok {
			return
		}

		rec, err := svc.SubmitEncryptedInput(r.Context(), addr, jobID, handle, proof)
		if err != nil {
			writeError(w, err)
			return
		}
		response.Created(w, rec)
	}
}

// NewGrantAccessHandler returns the handler for
// POST /api/v1/bridge/{jobID}/access/grant.
func NewGrantAccessHandler(svc BridgeService) http.HandlerFunc {
	return accessChange(svc.GrantAccess)
}

// NewRevokeAccessHandler returns the handler for
// POST /api/v1/bridge/{jobID}/access/revoke.
func NewRevokeAccessHandler(svc BridgeService) http.HandlerFunc {
	return accessChange(svc.RevokeAccess)
}

func accessChange(fn func(ctx context.Context, consumer models.Address, jobID int64, provider models.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		provider, err := models.ParseAddress(req.Provider)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "provider must be a valid address", nil)
			return
		}

		if err := fn(r.Context(), addr, jobID, provider); err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, map[string]any{"job_id": jobID, "provider": provider})
	}
}

// NewSubmitResultBridgeHandler returns the handler for
// POST /api/v1/bridge/{jobID}/result.
func NewSubmitResultBridgeHandler(svc BridgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Handle    string `json:"handle"`
			Proof     string `json:"proof"`
			ProofHash string `json:"proof_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		handle, proof, ok := parseHandleAndProof(w, req.Handle, req.Proof)
		if !ok {
			return
		}
		proofHash, err := models.ParseHash(req.ProofHash)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "proof_hash must be a 32-byte hex value", nil)
			return
		}

		rec, err := svc.SubmitEncryptedResult(r.Context(), addr, jobID, handle, proof, proofHash)
		if err != nil {
			writeError(w, err)
			return
		}
		response.Created(w, rec)
	}
}

// NewRequestDecryptionHandler returns the handler for
// POST /api/v1/bridge/{jobID}/decryption.
func NewRequestDecryptionHandler(svc BridgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		rec, err := svc.RequestResultDecryption(r.Context(), addr, jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.Accepted(w, rec)
	}
}

// NewFulfillDecryptionHandler returns the oracle callback handler for
// POST /api/v1/bridge/{jobID}/decryption/fulfill.
func NewFulfillDecryptionHandler(svc BridgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Value int64 `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		rec, err := svc.FulfillDecryption(r.Context(), addr, jobID, req.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewGetBridgeRecordHandler returns the handler for GET /api/v1/bridge/{jobID}.
func NewGetBridgeRecordHandler(svc BridgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		rec, err := svc.GetRecord(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}

// parseHandleAndProof decodes the 32-byte hex handle and the base64
// variable-length proof blob.
func parseHandleAndProof(w http.ResponseWriter, rawHandle, rawProof string) (models.Hash, []byte, bool) {
	handle, err := models.ParseHash(rawHandle)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "handle must be a 32-byte hex value", nil)
		return models.Hash{}, nil, false
	}
	proof, err := base64.StdEncoding.DecodeString(rawProof)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "proof must be base64-encoded", nil)
		return models.Hash{}, nil, false
	}
	return handle, proof, true
}
