package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CivicSim/CS-Gateway/internal/middleware"
)

// SetupRoutes mounts the full gateway surface. Session routes are grouped
// behind the session-id validator; scenario, agent, and cache routes proxy
// the backend directly.
func SetupRoutes(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Route("/session/{session_id}", func(r chi.Router) {
		r.Use(middleware.SessionIDMiddleware)

		r.Get("/state", h.GetState)
		r.Get("/layers", h.GetLayers)
		r.Get("/events", h.StreamEvents)

		// Proposal staging and placement
		r.Post("/proposal", h.SubmitProposal)
		r.Delete("/proposal", h.ClearProposal)
		r.Post("/items", h.PlaceItem)
		r.Delete("/items/{item_id}", h.RemoveItem)

		// Simulation
		r.Post("/simulate", h.StartSimulation)
		r.Post("/simulate/cancel", h.CancelSimulation)
		r.Post("/simulate/quick", h.QuickSimulate)
		r.Post("/chat", h.Chat)

		// Feed and promotion
		r.Get("/feed", h.GetFeed)
		r.Post("/feed/{feed_id}/promote", h.PromoteFeedItem)
		r.Post("/feed/{feed_id}/force", h.ForceFeedItem)
		r.Delete("/adoption-error", h.ClearAdoptionError)

		// Conversation and agents
		r.Get("/history", h.GetHistory)
		r.Post("/dm", h.DirectMessage)
		r.Get("/relationships", h.GetRelationships)

		r.Put("/settings", h.UpdateSettings)
	})

	r.Get("/scenarios", h.ListScenarios)
	r.Get("/scenarios/{scenario_id}", h.GetScenario)
	r.Get("/scenarios/{scenario_id}/agents", h.ListAgentOverrides)
	r.Get("/scenarios/{scenario_id}/agents/{agent_key}", h.GetAgentOverride)
	r.Put("/scenarios/{scenario_id}/agents/{agent_key}", h.PutAgentOverride)
	r.Delete("/scenarios/{scenario_id}/agents/{agent_key}", h.ResetAgentOverride)
	r.Delete("/scenarios/{scenario_id}/agents", h.ResetAllAgentOverrides)

	r.Post("/cache/key", h.ComputeCacheKey)
	r.Get("/cache/{key}", h.GetCacheEntry)
	r.Post("/cache/{key}/promote", h.PromoteCacheEntry)
	r.Delete("/cache/{key}", h.InvalidateCacheEntry)

	return r
}
