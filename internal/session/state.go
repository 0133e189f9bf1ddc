package session

import (
	"context"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/civic"
)

// Job lifecycle states.
const (
	JobIdle     = "idle"
	JobPending  = "pending"
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// MaxPlacedItems caps concurrent placements; the 11th drop is rejected.
const MaxPlacedItems = 10

// maxConversationEntries caps the persisted chat history per session.
const maxConversationEntries = 50

// JobState is the observable state of the progressive simulation job
// machine.
type JobState struct {
	Status          string            `json:"status"`
	ID              string            `json:"job_id,omitempty"`
	Progress        float64           `json:"progress"`
	Phase           string            `json:"phase,omitempty"`
	Message         string            `json:"message,omitempty"`
	CompletedAgents int               `json:"completed_agents"`
	TotalAgents     int               `json:"total_agents"`
	Error           string            `json:"error,omitempty"`
	ErrorKind       backend.ErrorKind `json:"error_kind,omitempty"`
}

// DisplayError renders the job error the way the panels show it: a
// clarification request gets the lens prefix, everything else the failure
// prefix. Presentation only; control flow never depends on it.
func (j JobState) DisplayError() string {
	if j.Error == "" {
		return ""
	}
	if j.ErrorKind == backend.KindClarificationNeeded {
		return "🔍 " + j.Error
	}
	return "❌ " + j.Error
}

// IsActive reports whether a job is in a non-terminal state.
func (j JobState) IsActive() bool {
	return j.Status == JobPending || j.Status == JobRunning
}

// state is the single-writer session state. Only the engine's run loop
// touches it; everything readable from outside goes out as a Snapshot copy.
type state struct {
	proposal      *civic.Proposal
	interpreted   *civic.InterpretedProposal
	placed        []civic.PlacedItem
	feed          []civic.FeedItem
	adopted       []civic.AdoptedEvent
	relationships []civic.RelationshipEdge
	reactions     map[string]civic.AgentReaction
	zones         map[string]civic.ZoneSentiment
	townHall      []civic.TownHallTurn
	conversation  []civic.ChatEntry
	autoSimulate  bool
	worldVersion  int
	adoptionError string

	// adopting holds feed ids with an Adopt RPC in flight, so concurrent
	// promotes of the same item cannot issue a second backend call.
	adopting map[string]bool

	job JobState
	// jobEpoch fences async job work: every start bumps it and results
	// from a previous epoch are discarded on arrival.
	jobEpoch  int
	jobCancel context.CancelFunc
}

func newState() *state {
	return &state{
		reactions: map[string]civic.AgentReaction{},
		zones:     map[string]civic.ZoneSentiment{},
		adopting:  map[string]bool{},
		job:       JobState{Status: JobIdle},
	}
}

// bumpWorld increments the world-state version. Called on every mutation to
// placed items or adopted policies.
func (s *state) bumpWorld() { s.worldVersion++ }

// releaseJob cancels the active job's context, if any, stopping its poller
// and detaching the context from the engine's base context. Runs on every
// terminal transition and on supersession.
func (s *state) releaseJob() {
	if s.jobCancel != nil {
		s.jobCancel()
		s.jobCancel = nil
	}
}

// clearResults drops the previous simulation's merged output. Runs at the
// start of every new job.
func (s *state) clearResults() {
	s.reactions = map[string]civic.AgentReaction{}
	s.zones = map[string]civic.ZoneSentiment{}
	s.townHall = nil
	s.interpreted = nil
}

// Snapshot is a read-only copy of session state handed to HTTP handlers and
// layer builders.
type Snapshot struct {
	SessionID     string                         `json:"session_id"`
	Proposal      *civic.Proposal                `json:"proposal,omitempty"`
	Interpreted   *civic.InterpretedProposal     `json:"interpreted_proposal,omitempty"`
	PlacedItems   []civic.PlacedItem             `json:"placed_items"`
	Feed          []civic.FeedItem               `json:"feed"`
	Adopted       []civic.AdoptedEvent           `json:"adopted_policies"`
	Relationships []civic.RelationshipEdge       `json:"relationships"`
	Reactions     map[string]civic.AgentReaction `json:"agent_reactions"`
	Zones         map[string]civic.ZoneSentiment `json:"zone_sentiments"`
	TownHall      []civic.TownHallTurn           `json:"town_hall,omitempty"`
	Conversation  []civic.ChatEntry              `json:"conversation"`
	AutoSimulate  bool                           `json:"auto_simulate"`
	WorldVersion  int                            `json:"world_version"`
	AdoptionError string                         `json:"adoption_error,omitempty"`
	Job           JobState                       `json:"job"`
}

func (s *state) snapshot(sessionID string) Snapshot {
	snap := Snapshot{
		SessionID:     sessionID,
		PlacedItems:   append([]civic.PlacedItem(nil), s.placed...),
		Feed:          append([]civic.FeedItem(nil), s.feed...),
		Adopted:       append([]civic.AdoptedEvent(nil), s.adopted...),
		Relationships: append([]civic.RelationshipEdge(nil), s.relationships...),
		Reactions:     make(map[string]civic.AgentReaction, len(s.reactions)),
		Zones:         make(map[string]civic.ZoneSentiment, len(s.zones)),
		TownHall:      append([]civic.TownHallTurn(nil), s.townHall...),
		Conversation:  append([]civic.ChatEntry(nil), s.conversation...),
		AutoSimulate:  s.autoSimulate,
		WorldVersion:  s.worldVersion,
		AdoptionError: s.adoptionError,
		Job:           s.job,
	}
	if snap.PlacedItems == nil {
		snap.PlacedItems = []civic.PlacedItem{}
	}
	if snap.Feed == nil {
		snap.Feed = []civic.FeedItem{}
	}
	if snap.Adopted == nil {
		snap.Adopted = []civic.AdoptedEvent{}
	}
	if snap.Relationships == nil {
		snap.Relationships = []civic.RelationshipEdge{}
	}
	if snap.Conversation == nil {
		snap.Conversation = []civic.ChatEntry{}
	}
	if s.proposal != nil {
		p := *s.proposal
		snap.Proposal = &p
	}
	if s.interpreted != nil {
		ip := *s.interpreted
		snap.Interpreted = &ip
	}
	for k, v := range s.reactions {
		snap.Reactions[k] = v
	}
	for k, v := range s.zones {
		snap.Zones[k] = v
	}
	return snap
}
