package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evidentlabs/rivalscan/internal/evidence"
	"github.com/evidentlabs/rivalscan/internal/scoring"
)

type scoreRequest struct {
	ID                string                  `json:"id"`
	ProjectID         string                  `json:"project_id"`
	PrimaryURL        string                  `json:"primary_url"`
	CreatedAt         time.Time               `json:"created_at"`
	Items             []evidence.EvidenceItem `json:"items"`
	Threshold         *scoring.Threshold      `json:"threshold"`
	Weights           *scoring.Weights        `json:"weights"`
	Buckets           *scoring.Buckets        `json:"buckets"`
	FirstPartyDomains []string                `json:"first_party_domains"`
	AsOf              *time.Time              `json:"as_of"`
}

// scoreBundle scores a caller-supplied evidence bundle without touching any
// stores. Insufficient bundles still return 200; sufficiency is part of the
// result, not an error.
func (s *Server) scoreBundle(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Threshold != nil {
		if err := req.Threshold.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Buckets != nil {
		if err := req.Buckets.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// Server config supplies scorer defaults; request overrides win.
	threshold := req.Threshold
	if threshold == nil {
		cfgThreshold := s.cfg.Threshold()
		threshold = &cfgThreshold
	}
	weights := req.Weights
	if weights == nil {
		cfgWeights := s.cfg.Scoring.Weights
		weights = &cfgWeights
	}
	buckets := req.Buckets
	if buckets == nil {
		cfgBuckets := s.cfg.Scoring.Buckets
		buckets = &cfgBuckets
	}

	bundle := evidence.Bundle{
		ID:         req.ID,
		ProjectID:  req.ProjectID,
		CreatedAt:  req.CreatedAt,
		PrimaryURL: req.PrimaryURL,
		Items:      req.Items,
	}
	asOf := s.clock.Now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	result := scoring.Score(bundle, scoring.Options{
		Threshold:         threshold,
		Weights:           weights,
		Buckets:           buckets,
		FirstPartyDomains: req.FirstPartyDomains,
		AsOf:              asOf,
	})
	writeJSON(w, http.StatusOK, result)
}
