package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/CivicSim/CS-Gateway/internal/geo"
	"github.com/goccy/go-yaml"
)

// Scenario is the static city definition the gateway serves: the zone
// polygons, their stakeholder personas, and the reference latitude that
// parameterizes all grid math. Loaded once at startup from YAML.
type Scenario struct {
	ID           string  `yaml:"id" json:"id"`
	Name         string  `yaml:"name" json:"name"`
	ReferenceLat float64 `yaml:"reference_lat" json:"reference_lat"`
	Center       Coord   `yaml:"center" json:"center"`
	Zones        []Zone  `yaml:"zones" json:"zones"`
}

// Zone is one map district. Its id doubles as the agent key for the
// stakeholder persona tied to it; the two key spaces are identical by
// convention across the whole product.
type Zone struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	Emoji    string  `yaml:"emoji" json:"emoji"`
	Persona  string  `yaml:"persona" json:"persona"`
	Polygon  []Coord `yaml:"polygon" json:"polygon"`
	Centroid *Coord  `yaml:"centroid,omitempty" json:"centroid,omitempty"`
}

type Coord struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

func (c Coord) Point() geo.Point { return geo.Point{Lat: c.Lat, Lng: c.Lng} }

// Load reads a scenario YAML file, fills derived fields, and validates it.
// An empty path returns the built-in Kingston scenario.
func Load(path string) (*Scenario, error) {
	if strings.TrimSpace(path) == "" {
		s := Kingston()
		s.Normalize()
		return s, s.Validate()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("scenario yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario yaml: %w", err)
	}
	return &s, nil
}

// Normalize computes centroids for zones that don't declare one.
func (s *Scenario) Normalize() {
	for i := range s.Zones {
		if s.Zones[i].Centroid == nil && len(s.Zones[i].Polygon) > 0 {
			ring := make([]geo.Point, len(s.Zones[i].Polygon))
			for j, c := range s.Zones[i].Polygon {
				ring[j] = c.Point()
			}
			c := geo.Centroid(ring)
			s.Zones[i].Centroid = &Coord{Lat: c.Lat, Lng: c.Lng}
		}
	}
}

func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if s.ReferenceLat < -90 || s.ReferenceLat > 90 {
		return fmt.Errorf("reference_lat %f out of range", s.ReferenceLat)
	}
	if len(s.Zones) == 0 {
		return fmt.Errorf("scenario needs at least one zone")
	}
	seen := map[string]struct{}{}
	for _, z := range s.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone without id")
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = struct{}{}
		if len(z.Polygon) < 3 {
			return fmt.Errorf("zone %q polygon needs at least 3 vertices", z.ID)
		}
	}
	return nil
}

// ZoneByID returns the zone with the given id, or nil.
func (s *Scenario) ZoneByID(id string) *Zone {
	for i := range s.Zones {
		if s.Zones[i].ID == id {
			return &s.Zones[i]
		}
	}
	return nil
}

// ZoneRefs adapts the zone set for the geo ranking helpers.
func (s *Scenario) ZoneRefs() []geo.ZoneRef {
	refs := make([]geo.ZoneRef, len(s.Zones))
	for i, z := range s.Zones {
		ring := make([]geo.Point, len(z.Polygon))
		for j, c := range z.Polygon {
			ring[j] = c.Point()
		}
		var cent geo.Point
		if z.Centroid != nil {
			cent = z.Centroid.Point()
		} else {
			cent = geo.Centroid(ring)
		}
		refs[i] = geo.ZoneRef{ID: z.ID, Name: z.Name, Centroid: cent, Ring: ring}
	}
	return refs
}

// Converter returns the grid converter for this scenario's latitude.
func (s *Scenario) Converter() geo.Converter {
	return geo.NewConverter(s.ReferenceLat)
}
