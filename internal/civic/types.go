package civic

import (
	"time"

	"github.com/CivicSim/CS-Gateway/internal/geo"
)

// ProposalKind discriminates the proposal union.
type ProposalKind string

const (
	ProposalSpatial  ProposalKind = "spatial"
	ProposalCitywide ProposalKind = "citywide"
)

// Proposal is a user's intervention before it is placed or submitted.
// Spatial proposals carry a location and footprint; citywide ones carry a
// percentage/amount and targeting. Exactly one of the two sections is
// meaningful, selected by Kind.
type Proposal struct {
	Kind  ProposalKind `json:"kind"`
	Type  string       `json:"type"` // park, housing, transit, tax_change, ...
	Title string       `json:"title"`

	// Spatial fields.
	Location *geo.Point      `json:"location,omitempty"`
	RadiusKM float64         `json:"radius_km,omitempty"`
	Scale    string          `json:"scale,omitempty"`
	Features map[string]bool `json:"features,omitempty"`

	// Citywide fields.
	Percentage float64 `json:"percentage,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Target     string  `json:"target,omitempty"`
}

// PlacedItem is a committed spatial proposal bound to a map coordinate.
type PlacedItem struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Emoji    string    `json:"emoji"`
	Location geo.Point `json:"location"`
	RadiusKM float64   `json:"radius_km"`
	ZoneID   string    `json:"zone_id"`
	ZoneName string    `json:"zone_name"`
	PlacedAt time.Time `json:"placed_at"`
}

// InterpretedProposal is the backend-normalized form of a proposal.
// Produced only by the backend; the client treats it as read-only.
type InterpretedProposal struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary"`
	Location   *geo.Point     `json:"location,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Stance values an agent can take on a proposal.
const (
	StanceSupport = "support"
	StanceOppose  = "oppose"
	StanceNeutral = "neutral"
)

// AgentReaction is one stakeholder's reaction. AgentKey equals the id of the
// map zone the stakeholder represents; the UI relies on that everywhere.
type AgentReaction struct {
	AgentKey   string   `json:"agent_key"`
	AgentName  string   `json:"agent_name"`
	Stance     string   `json:"stance"` // support|oppose|neutral
	Intensity  float64  `json:"intensity"`
	Quote      string   `json:"quote"`
	Concerns   []string `json:"concerns,omitempty"`
	Amendments []string `json:"amendments,omitempty"`
}

// ZoneSentiment is the aggregate per-zone score in -1..+1. ZoneID shares the
// AgentKey key space.
type ZoneSentiment struct {
	ZoneID    string   `json:"zone_id"`
	Score     float64  `json:"score"`
	TopQuotes []string `json:"top_quotes,omitempty"`
}

// TownHallTurn is one speaker turn of a synthesized town-hall transcript.
type TownHallTurn struct {
	Speaker  string `json:"speaker"`
	AgentKey string `json:"agent_key,omitempty"`
	Text     string `json:"text"`
}

// VoteTally is the non-neutral vote summary of a simulated proposal.
// Neutrals abstain: the agreement percentage divides support by
// support+oppose only.
type VoteTally struct {
	Support      int `json:"support"`
	Oppose       int `json:"oppose"`
	Neutral      int `json:"neutral"`
	AgreementPct int `json:"agreement_pct"`
}

// FeedItem is the ephemeral record of one simulated proposal: the vote tally
// plus promotion bookkeeping. ID is the origin_proposal_id used to keep
// promotion idempotent.
type FeedItem struct {
	ID          string              `json:"id"`
	Proposal    InterpretedProposal `json:"proposal"`
	Tally       VoteTally           `json:"tally"`
	Reactions   []AgentReaction     `json:"reactions,omitempty"`
	CanPromote  bool                `json:"can_promote"`
	IsPromoted  bool                `json:"is_promoted"`
	SimulatedAt time.Time           `json:"simulated_at"`
}

// ZoneDelta is a per-zone sentiment shift attached to an adopted policy.
type ZoneDelta struct {
	ZoneID string  `json:"zone_id"`
	Delta  float64 `json:"delta"`
}

// AdoptedEvent is a persisted policy outcome.
type AdoptedEvent struct {
	ID               string      `json:"id"`
	OriginProposalID string      `json:"origin_proposal_id"`
	Title            string      `json:"title"`
	Summary          string      `json:"summary"`
	Outcome          string      `json:"outcome"` // adopted|forced
	Tally            VoteTally   `json:"tally"`
	KeyQuotes        []string    `json:"key_quotes,omitempty"`
	ZoneDeltas       []ZoneDelta `json:"zone_deltas,omitempty"`
	AdoptedAt        time.Time   `json:"adopted_at"`
}

// RelationshipEdge is one edge of the agent relationship graph.
type RelationshipEdge struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Score float64 `json:"score"` // -1..+1
}

// ChatEntry is one turn of the session conversation.
type ChatEntry struct {
	Role      string    `json:"role"` // user|assistant
	Content   string    `json:"content"`
	Quotes    []string  `json:"quotes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Tally computes the abstention-neutral vote summary over a reaction set.
func Tally(reactions []AgentReaction) VoteTally {
	var t VoteTally
	for _, r := range reactions {
		switch r.Stance {
		case StanceSupport:
			t.Support++
		case StanceOppose:
			t.Oppose++
		default:
			t.Neutral++
		}
	}
	if voters := t.Support + t.Oppose; voters > 0 {
		t.AgreementPct = int(float64(t.Support)/float64(voters)*100 + 0.5)
	}
	return t
}

// CanPromote reports whether a tally clears the promotion threshold: at
// least half of the non-neutral voters in support. A proposal nobody voted
// on cannot be promoted.
func (t VoteTally) CanPromote() bool {
	voters := t.Support + t.Oppose
	if voters == 0 {
		return false
	}
	return float64(t.Support)/float64(voters) >= 0.5
}
