package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/stats"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
)

const defaultTenant = "default"

// Handlers holds the services the API surface delegates to.
type Handlers struct {
	campaigns    *campaign.Service
	stats        *stats.Service
	suppressions *suppression.Service
	tracker      *tracking.Service
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns *campaign.Service, st *stats.Service, sup *suppression.Service, tracker *tracking.Service) *Handlers {
	return &Handlers{
		campaigns:    campaigns,
		stats:        st,
		suppressions: sup,
		tracker:      tracker,
	}
}

// tenantID resolves the caller's tenant. Single-tenant deployments omit the
// header and fall through to the default.
func tenantID(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenant
}

// HandleHealth reports liveness.
//
//	GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleCreateCampaign creates a draft campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.campaigns.Create(r.Context(), tenantID(r), input)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// HandleListCampaigns lists campaigns with optional status filter and
// limit/offset pagination.
//
//	GET /api/campaigns?status=sending&limit=50&offset=0
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	items, total, err := h.campaigns.List(r.Context(), tenantID(r), f)
	if err != nil {
		logger.Error("list campaigns failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if items == nil {
		items = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": items,
		"total":     total,
		"limit":     f.Limit,
		"offset":    f.Offset,
	})
}

// HandleGetCampaign returns a single campaign.
//
//	GET /api/campaigns/{campaignID}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleCampaignStats returns counters and rates computed from the delivery
// records, not the cached campaign counters.
//
//	GET /api/campaigns/{campaignID}/stats
func (h *Handlers) HandleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	c, err := h.campaigns.Get(r.Context(), tenantID(r), id)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}

	st, err := h.stats.Stats(r.Context(), id)
	if err != nil {
		logger.Error("campaign stats failed", "campaign_id", id, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	// The record total undercounts the audience until the worker has created
	// every record; the resolver's count on the campaign is authoritative.
	if c.Counters.Resolved > st.Resolved {
		st.Resolved = c.Counters.Resolved
	}
	respondJSON(w, http.StatusOK, st)
}

// HandleScheduleCampaign schedules a draft campaign for a future send.
//
//	POST /api/campaigns/{campaignID}/schedule {"send_at": "2026-09-01T09:00:00Z"}
func (h *Handlers) HandleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var input struct {
		SendAt time.Time `json:"send_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.SendAt.IsZero() {
		respondError(w, http.StatusBadRequest, "send_at is required")
		return
	}

	c, err := h.campaigns.Schedule(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"), input.SendAt)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleSendCampaign moves a campaign into sending immediately. The worker
// picks it up on its next pass.
//
//	POST /api/campaigns/{campaignID}/send
func (h *Handlers) HandleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.SendNow(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandlePauseCampaign pauses a sending campaign between batches.
//
//	POST /api/campaigns/{campaignID}/pause
func (h *Handlers) HandlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Pause(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleResumeCampaign resumes a paused campaign.
//
//	POST /api/campaigns/{campaignID}/resume
func (h *Handlers) HandleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Resume(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleCancelCampaign cancels a campaign. Terminal; there is no undo.
//
//	POST /api/campaigns/{campaignID}/cancel
func (h *Handlers) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Cancel(r.Context(), tenantID(r), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleListSuppressions lists suppressed addresses.
//
//	GET /api/suppressions?limit=100&offset=0
func (h *Handlers) HandleListSuppressions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.suppressions.ListSuppressed(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		logger.Error("list suppressions failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to list suppressions")
		return
	}
	if entries == nil {
		entries = []domain.SuppressionEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"suppressions": entries})
}

// HandleBounceWebhook ingests provider bounce notifications. The class is
// "hard" or "soft"; anything else is rejected.
//
//	POST /webhooks/bounce {"campaign_id": "...", "address": "...", "class": "hard"}
func (h *Handlers) HandleBounceWebhook(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CampaignID string `json:"campaign_id"`
		Address    string `json:"address"`
		Class      string `json:"class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}

	var class domain.BounceClass
	switch strings.ToLower(input.Class) {
	case "hard":
		class = domain.BounceHard
	case "soft":
		class = domain.BounceSoft
	default:
		respondError(w, http.StatusBadRequest, "class must be hard or soft")
		return
	}

	if err := h.tracker.Bounce(r.Context(), input.CampaignID, input.Address, class); err != nil {
		logger.Error("bounce webhook failed",
			"campaign_id", input.CampaignID,
			"address", logger.RedactEmail(input.Address),
			"error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to record bounce")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (h *Handlers) respondCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrMissingName),
		errors.Is(err, campaign.ErrMissingRule),
		errors.Is(err, campaign.ErrMissingTemplate),
		errors.Is(err, campaign.ErrPastSchedule):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("campaign operation failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
