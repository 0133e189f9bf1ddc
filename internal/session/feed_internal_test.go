package session

import (
	"testing"

	"github.com/CivicSim/CS-Gateway/internal/civic"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"park", "Park Proposal"},
		{"tax_change", "Tax Change Proposal"},
		{"affordable_housing", "Affordable Housing Proposal"},
		{"", "Proposal"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.in); got != tc.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTopQuotes_SkipsNeutralsAndCaps(t *testing.T) {
	reactions := []civic.AgentReaction{
		{AgentKey: "a", Stance: civic.StanceNeutral, Intensity: 0.9, Quote: "meh"},
		{AgentKey: "b", Stance: civic.StanceSupport, Intensity: 0.5, Quote: "yes"},
		{AgentKey: "c", Stance: civic.StanceOppose, Intensity: 0.8, Quote: "no"},
		{AgentKey: "d", Stance: civic.StanceSupport, Intensity: 0.2, Quote: "sure"},
		{AgentKey: "e", Stance: civic.StanceOppose, Intensity: 0.7},
	}

	quotes := topQuotes(reactions, 4)
	if len(quotes) != 3 {
		t.Fatalf("expected 3 quotes (neutral and empty skipped), got %d: %v", len(quotes), quotes)
	}
	if quotes[0] != "no" {
		t.Errorf("expected strongest voter first, got %v", quotes)
	}
}

func TestZoneDeltas_SignedAndCapped(t *testing.T) {
	reactions := []civic.AgentReaction{
		{AgentKey: "a", Stance: civic.StanceSupport, Intensity: 1.0},
		{AgentKey: "b", Stance: civic.StanceOppose, Intensity: 0.9},
		{AgentKey: "c", Stance: civic.StanceSupport, Intensity: 0.3},
		{AgentKey: "d", Stance: civic.StanceOppose, Intensity: 0.5},
		{AgentKey: "e", Stance: civic.StanceNeutral, Intensity: 0.8},
	}

	deltas := zoneDeltas(reactions)
	if len(deltas) != 3 {
		t.Fatalf("expected cap at 3 deltas, got %d", len(deltas))
	}
	if deltas[0].ZoneID != "a" || deltas[0].Delta <= 0 {
		t.Errorf("expected strongest supporter first with positive delta, got %+v", deltas[0])
	}
	if deltas[1].ZoneID != "b" || deltas[1].Delta >= 0 {
		t.Errorf("expected opposition delta negative, got %+v", deltas[1])
	}
	for _, d := range deltas {
		if d.ZoneID == "e" {
			t.Errorf("neutral reaction must not produce a delta")
		}
	}
}
