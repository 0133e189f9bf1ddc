package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/maplayer"
	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/CivicSim/CS-Gateway/internal/session"
	"github.com/CivicSim/CS-Gateway/internal/utils"
	"github.com/CivicSim/CS-Gateway/internal/worldstate"
)

// Handlers is the HTTP surface over the session engines plus the pure
// passthroughs to the simulation backend.
type Handlers struct {
	Manager  *Manager
	Client   *backend.Client
	Scenario *scenario.Scenario
}

func (h *Handlers) engine(r *http.Request) *session.Engine {
	sessionID, _ := utils.GetSessionIDFromContext(r.Context())
	return h.Manager.Engine(sessionID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeEngineError maps the session engine's sentinel errors onto HTTP
// statuses. Unknown errors are surfaced as 500s with their message.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrPlacementLimit):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrBelowThreshold):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNotSpatial), errors.Is(err, session.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrUnknownFeedItem):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrEngineStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeBackendError maps backend client errors for passthrough endpoints.
func writeBackendError(w http.ResponseWriter, err error) {
	var api *backend.APIError
	var unavailable *backend.ServiceUnavailableError
	switch {
	case errors.As(err, &unavailable):
		http.Error(w, unavailable.Detail, http.StatusBadGateway)
	case errors.As(err, &api):
		http.Error(w, api.Detail, api.Status)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetState returns the full session snapshot.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine(r).Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetLayers builds the render layers for the current snapshot.
func (h *Handlers) GetLayers(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine(r).Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maplayer.Build(h.Scenario, snap))
}

// SubmitProposal validates and stages the active proposal.
func (h *Handlers) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if err := validateProposalPayload(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var p civic.Proposal
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine(r).SetProposal(r.Context(), p); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearProposal discards the active proposal.
func (h *Handlers) ClearProposal(w http.ResponseWriter, r *http.Request) {
	if err := h.engine(r).ClearProposal(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlaceItem commits a spatial proposal onto the map.
func (h *Handlers) PlaceItem(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if err := validateProposalPayload(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var p civic.Proposal
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	item, err := h.engine(r).Place(r.Context(), p)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// RemoveItem deletes a placed item by id.
func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if err := h.engine(r).Remove(r.Context(), itemID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartSimulation kicks off a progressive simulation run. The response is
// 202; progress arrives via snapshots and the events stream.
func (h *Handlers) StartSimulation(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine(r).StartSimulation(r.Context(), req); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelSimulation stops tracking the active job. The backend job keeps
// running; its late results are fenced off and ignored.
func (h *Handlers) CancelSimulation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine(r).Cancel(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QuickSimulate runs the synchronous deterministic approval model against
// the current world state.
func (h *Handlers) QuickSimulate(w http.ResponseWriter, r *http.Request) {
	var p civic.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	snap, err := h.engine(r).Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	result, err := h.Client.Simulate(r.Context(), backend.SimulateRequest{
		ScenarioID: h.Scenario.ID,
		Proposal:   p,
		WorldState: worldstate.Build(snap.PlacedItems, snap.Adopted, snap.Relationships, snap.WorldVersion),
	})
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Chat runs the synchronous conversational path.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	eng := h.engine(r)
	if err := eng.Chat(r.Context(), req); err != nil {
		writeEngineError(w, err)
		return
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetFeed returns the proposal feed.
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine(r).Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Feed)
}

// PromoteFeedItem promotes a feed item that cleared the vote threshold.
func (h *Handlers) PromoteFeedItem(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	if err := h.engine(r).Promote(r.Context(), feedID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceFeedItem promotes a feed item regardless of its tally.
func (h *Handlers) ForceFeedItem(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	if err := h.engine(r).Force(r.Context(), feedID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAdoptionError dismisses the adoption failure banner.
func (h *Handlers) ClearAdoptionError(w http.ResponseWriter, r *http.Request) {
	if err := h.engine(r).ClearAdoptionError(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSettings sets session preferences. Only auto_simulate for now.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoSimulate bool `json:"auto_simulate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine(r).SetAutoSimulate(r.Context(), req.AutoSimulate); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns the persisted conversation.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine(r).Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Conversation)
}

// DirectMessage relays an agent-to-agent message and applies the stance
// update the backend returns, if any.
func (h *Handlers) DirectMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := utils.GetSessionIDFromContext(r.Context())
	var req backend.DMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.SessionID = sessionID
	result, err := h.Client.DirectMessage(r.Context(), req)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	if result.StanceUpdate != nil {
		if err := h.Manager.Engine(sessionID).ApplyStanceUpdate(r.Context(), *result.StanceUpdate); err != nil {
			log.Printf("[gateway] stance update for session %s failed: %v", sessionID, err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRelationships refreshes and returns the agent relationship graph.
func (h *Handlers) GetRelationships(w http.ResponseWriter, r *http.Request) {
	eng := h.engine(r)
	if err := eng.RefreshRelationships(r.Context()); err != nil {
		log.Printf("[gateway] relationship refresh failed: %v", err)
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Relationships)
}

// --- scenario and agent passthroughs ---

// ListScenarios proxies the backend scenario list.
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.Client.ListScenarios(r.Context())
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenarios)
}

// GetScenario proxies a single scenario lookup.
func (h *Handlers) GetScenario(w http.ResponseWriter, r *http.Request) {
	info, err := h.Client.GetScenario(r.Context(), chi.URLParam(r, "scenario_id"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListAgentOverrides proxies the per-scenario agent override map.
func (h *Handlers) ListAgentOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.Client.AgentOverrides(r.Context(), chi.URLParam(r, "scenario_id"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

// GetAgentOverride proxies one agent's override.
func (h *Handlers) GetAgentOverride(w http.ResponseWriter, r *http.Request) {
	ov, err := h.Client.GetAgent(r.Context(), chi.URLParam(r, "scenario_id"), chi.URLParam(r, "agent_key"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// PutAgentOverride proxies an agent override update.
func (h *Handlers) PutAgentOverride(w http.ResponseWriter, r *http.Request) {
	var ov backend.AgentOverride
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ov.AgentKey = chi.URLParam(r, "agent_key")
	if err := h.Client.PutAgent(r.Context(), chi.URLParam(r, "scenario_id"), ov); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetAgentOverride proxies a single agent reset.
func (h *Handlers) ResetAgentOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.Client.ResetAgent(r.Context(), chi.URLParam(r, "scenario_id"), chi.URLParam(r, "agent_key")); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetAllAgentOverrides proxies a scenario-wide agent reset.
func (h *Handlers) ResetAllAgentOverrides(w http.ResponseWriter, r *http.Request) {
	if err := h.Client.ResetAllAgents(r.Context(), chi.URLParam(r, "scenario_id")); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- cache passthroughs ---

// ComputeCacheKey proxies cache key derivation.
func (h *Handlers) ComputeCacheKey(w http.ResponseWriter, r *http.Request) {
	var req backend.CacheKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key, err := h.Client.CacheComputeKey(r.Context(), req)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backend.CacheKey{Key: key})
}

// GetCacheEntry proxies a cache lookup.
func (h *Handlers) GetCacheEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Client.CacheGet(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// PromoteCacheEntry proxies a cache promotion.
func (h *Handlers) PromoteCacheEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Client.CachePromote(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateCacheEntry proxies a cache invalidation.
func (h *Handlers) InvalidateCacheEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Client.CacheInvalidate(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
