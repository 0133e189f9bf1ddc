// Package maplayer turns a session snapshot into the layer descriptors the
// map front-end feeds to deck.gl. Pure construction, no state.
package maplayer

import (
	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/geo"
	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/CivicSim/CS-Gateway/internal/session"
)

// RGBA is a deck.gl color quadruplet.
type RGBA [4]uint8

// Neutral zone fill and the sentiment extremes it interpolates toward.
var (
	neutralFill = RGBA{158, 158, 158, 90}
	supportFill = RGBA{46, 160, 67, 150}
	opposeFill  = RGBA{218, 54, 51, 150}
)

// ZoneFeature is one polygon of the zone layer.
type ZoneFeature struct {
	ZoneID    string       `json:"zone_id"`
	Name      string       `json:"name"`
	Polygon   [][2]float64 `json:"polygon"` // [lng, lat] pairs, deck.gl order
	FillColor RGBA         `json:"fill_color"`
	Score     float64      `json:"score"`
	TopQuotes []string     `json:"top_quotes,omitempty"`
}

// Marker is one placed-item icon.
type Marker struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"position"` // [lng, lat]
	Emoji    string     `json:"emoji"`
	Title    string     `json:"title"`
	RadiusM  float64    `json:"radius_m"`
}

// Ghost is the drag preview for the active spatial proposal: where the drop
// would snap to and which zones it would touch first.
type Ghost struct {
	Position [2]float64         `json:"position"` // [lng, lat], snapped
	RadiusM  float64            `json:"radius_m"`
	ZoneID   string             `json:"zone_id,omitempty"`
	Nearest  []geo.ZoneDistance `json:"nearest"`
}

// Layers is the full layer set for one render pass.
type Layers struct {
	Zones   []ZoneFeature `json:"zones"`
	Markers []Marker      `json:"markers"`
	Ghost   *Ghost        `json:"ghost,omitempty"`
}

// Build assembles all layers from a snapshot against a scenario.
func Build(scn *scenario.Scenario, snap session.Snapshot) Layers {
	return Layers{
		Zones:   BuildZoneLayer(scn, snap.Zones),
		Markers: BuildMarkerLayer(snap.PlacedItems),
		Ghost:   BuildGhostLayer(scn, snap.Proposal),
	}
}

// BuildZoneLayer colors every scenario zone by its sentiment score. Zones
// with no sentiment yet render neutral gray.
func BuildZoneLayer(scn *scenario.Scenario, sentiments map[string]civic.ZoneSentiment) []ZoneFeature {
	features := make([]ZoneFeature, 0, len(scn.Zones))
	for _, z := range scn.Zones {
		feature := ZoneFeature{
			ZoneID:    z.ID,
			Name:      z.Name,
			Polygon:   ringToPositions(z.Polygon),
			FillColor: neutralFill,
		}
		if s, ok := sentiments[z.ID]; ok {
			feature.Score = s.Score
			feature.TopQuotes = s.TopQuotes
			feature.FillColor = SentimentColor(s.Score)
		}
		features = append(features, feature)
	}
	return features
}

// BuildMarkerLayer maps placed items to markers.
func BuildMarkerLayer(items []civic.PlacedItem) []Marker {
	markers := make([]Marker, 0, len(items))
	for _, item := range items {
		markers = append(markers, Marker{
			ID:       item.ID,
			Position: [2]float64{item.Location.Lng, item.Location.Lat},
			Emoji:    item.Emoji,
			Title:    item.Title,
			RadiusM:  item.RadiusKM * 1000,
		})
	}
	return markers
}

// BuildGhostLayer previews the active spatial proposal, or returns nil when
// there is nothing to preview.
func BuildGhostLayer(scn *scenario.Scenario, p *civic.Proposal) *Ghost {
	if p == nil || p.Kind != civic.ProposalSpatial || p.Location == nil {
		return nil
	}
	snapped := scn.Converter().SnapToGrid(*p.Location)
	refs := scn.ZoneRefs()
	return &Ghost{
		Position: [2]float64{snapped.Lng, snapped.Lat},
		RadiusM:  p.RadiusKM * 1000,
		ZoneID:   geo.FindContainingZone(refs, snapped),
		Nearest:  geo.RankZonesByDistance(refs, snapped),
	}
}

// SentimentColor interpolates from the neutral gray toward green for
// positive scores and red for negative ones. Score is clamped to -1..+1.
func SentimentColor(score float64) RGBA {
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	target := supportFill
	t := score
	if score < 0 {
		target = opposeFill
		t = -score
	}
	var out RGBA
	for i := 0; i < 4; i++ {
		out[i] = uint8(float64(neutralFill[i]) + t*(float64(target[i])-float64(neutralFill[i])))
	}
	return out
}

func ringToPositions(ring []scenario.Coord) [][2]float64 {
	out := make([][2]float64, len(ring))
	for i, c := range ring {
		out[i] = [2]float64{c.Lng, c.Lat}
	}
	return out
}
