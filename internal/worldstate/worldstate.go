package worldstate

import (
	"math"
	"sort"

	"github.com/CivicSim/CS-Gateway/internal/civic"
)

const (
	maxRelationshipShifts = 3
	minShiftMagnitude     = 0.1
)

// Summary is the compact world snapshot attached to every outbound AI call
// so the backend can condition on what the session has already done. Version
// is a monotonic counter bumped on every durable mutation; the backend uses
// it for context freshness only, not concurrency control.
type Summary struct {
	Version               int                 `json:"version"`
	PlacedItems           []PlacedItemSummary `json:"placed_items"`
	AdoptedPolicies       []PolicySummary     `json:"adopted_policies"`
	TopRelationshipShifts []RelationshipShift `json:"top_relationship_shifts"`
}

type PlacedItemSummary struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Title    string  `json:"title"`
	ZoneID   string  `json:"region_id"`
	ZoneName string  `json:"region_name"`
	RadiusKM float64 `json:"radius_km"`
	Emoji    string  `json:"emoji"`
}

type PolicySummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	Outcome      string `json:"outcome"`
	AgreementPct int    `json:"vote_pct"`
	AdoptedAt    int64  `json:"timestamp"`
}

type RelationshipShift struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Score float64 `json:"score"`
}

// Build assembles a Summary from current session state. Pure and
// deterministic given its inputs.
func Build(placed []civic.PlacedItem, adopted []civic.AdoptedEvent, relationships []civic.RelationshipEdge, version int) Summary {
	s := Summary{
		Version:               version,
		PlacedItems:           make([]PlacedItemSummary, 0, len(placed)),
		AdoptedPolicies:       make([]PolicySummary, 0, len(adopted)),
		TopRelationshipShifts: []RelationshipShift{},
	}

	for _, p := range placed {
		s.PlacedItems = append(s.PlacedItems, PlacedItemSummary{
			ID:       p.ID,
			Type:     p.Type,
			Title:    p.Title,
			ZoneID:   p.ZoneID,
			ZoneName: p.ZoneName,
			RadiusKM: p.RadiusKM,
			Emoji:    p.Emoji,
		})
	}

	for _, a := range adopted {
		s.AdoptedPolicies = append(s.AdoptedPolicies, PolicySummary{
			ID:           a.ID,
			Title:        a.Title,
			Summary:      a.Summary,
			Outcome:      a.Outcome,
			AgreementPct: a.Tally.AgreementPct,
			AdoptedAt:    a.AdoptedAt.Unix(),
		})
	}

	shifts := make([]civic.RelationshipEdge, 0, len(relationships))
	for _, r := range relationships {
		if math.Abs(r.Score) > minShiftMagnitude {
			shifts = append(shifts, r)
		}
	}
	sort.Slice(shifts, func(i, j int) bool {
		return math.Abs(shifts[i].Score) > math.Abs(shifts[j].Score)
	})
	if len(shifts) > maxRelationshipShifts {
		shifts = shifts[:maxRelationshipShifts]
	}
	for _, r := range shifts {
		s.TopRelationshipShifts = append(s.TopRelationshipShifts, RelationshipShift(r))
	}

	return s
}
