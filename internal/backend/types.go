package backend

import (
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/worldstate"
)

// ScenarioInfo is the backend's view of a scenario.
type ScenarioInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AgentKeys []string `json:"agent_keys,omitempty"`
}

// SimulateRequest drives the synchronous deterministic simulation path.
type SimulateRequest struct {
	ScenarioID string             `json:"scenario_id"`
	Proposal   civic.Proposal     `json:"proposal"`
	WorldState worldstate.Summary `json:"world_state"`
}

// SimulateResult is the approval breakdown returned by POST /v1/simulate.
type SimulateResult struct {
	AggregateApproval float64            `json:"aggregate_approval"`
	ByRegion          map[string]float64 `json:"by_region"`
	ByArchetype       map[string]float64 `json:"by_archetype"`
}

// AIRequest is the shared request body for the chat and progressive
// simulation endpoints.
type AIRequest struct {
	Message       string             `json:"message"`
	ScenarioID    string             `json:"scenario_id"`
	SessionID     string             `json:"session_id"`
	BuildProposal *civic.Proposal    `json:"build_proposal,omitempty"`
	WorldState    worldstate.Summary `json:"world_state"`
	SpeakerMode   string             `json:"speaker_mode,omitempty"`
}

// AIResult is a full agent-reaction simulation: the normalized proposal plus
// every stakeholder's reaction, zone aggregates, and the town-hall transcript.
type AIResult struct {
	Reply       string                    `json:"reply"`
	Interpreted civic.InterpretedProposal `json:"interpreted_proposal"`
	Reactions   []civic.AgentReaction     `json:"reactions"`
	Zones       []civic.ZoneSentiment     `json:"zones"`
	TownHall    []civic.TownHallTurn      `json:"town_hall,omitempty"`
}

// JobCreated is the response of POST /v1/ai/simulate.
type JobCreated struct {
	JobID string `json:"job_id"`
}

// Job status values for the progressive protocol.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus is one poll response of the progressive simulation protocol.
// Partial reactions/zones arrive before completion so the map can color in
// real time; Result is set only on complete.
type JobStatus struct {
	JobID            string                `json:"job_id"`
	Status           string                `json:"status"`
	Progress         float64               `json:"progress"`
	Phase            string                `json:"phase"`
	Message          string                `json:"message"`
	CompletedAgents  int                   `json:"completed_agents"`
	TotalAgents      int                   `json:"total_agents"`
	PartialReactions []civic.AgentReaction `json:"partial_reactions,omitempty"`
	PartialZones     []civic.ZoneSentiment `json:"partial_zones,omitempty"`
	Result           *AIResult             `json:"result,omitempty"`
	Error            string                `json:"error,omitempty"`
	ErrorKind        string                `json:"error_kind,omitempty"`
}

// DMRequest is an agent-to-agent direct message. The backend applies a
// stance-update side effect to the recipient.
type DMRequest struct {
	SessionID string `json:"session_id"`
	FromKey   string `json:"from_key"`
	ToKey     string `json:"to_key"`
	Message   string `json:"message"`
}

type DMResult struct {
	Reply        string               `json:"reply"`
	StanceUpdate *civic.AgentReaction `json:"stance_update,omitempty"`
}

// AdoptRequest persists a policy outcome against a session's agent memory.
type AdoptRequest struct {
	SessionID string             `json:"session_id"`
	Event     civic.AdoptedEvent `json:"event"`
}

// AgentOverride is a per-agent model/persona override.
type AgentOverride struct {
	AgentKey string `json:"agent_key"`
	Model    string `json:"model,omitempty"`
	Persona  string `json:"persona,omitempty"`
}

// CacheKeyRequest asks the backend for the canonical cache key of a
// scenario+proposal+model configuration.
type CacheKeyRequest struct {
	ScenarioID  string            `json:"scenario_id"`
	Proposal    civic.Proposal    `json:"proposal"`
	AgentModels map[string]string `json:"agent_models,omitempty"`
}

type CacheKey struct {
	Key string `json:"key"`
}

// CacheEntry is a cached simulation result.
type CacheEntry struct {
	Key    string    `json:"key"`
	Result *AIResult `json:"result,omitempty"`
}
