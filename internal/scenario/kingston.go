package scenario

// Kingston returns the built-in Kingston, Ontario scenario used when no
// scenario file is configured. Zone polygons are coarse district outlines,
// enough for containment and proximity ranking.
func Kingston() *Scenario {
	return &Scenario{
		ID:           "kingston",
		Name:         "Kingston, Ontario",
		ReferenceLat: 44.23,
		Center:       Coord{Lat: 44.2312, Lng: -76.4860},
		Zones: []Zone{
			{
				ID: "downtown", Name: "Downtown", Emoji: "🏙️",
				Persona: "Downtown business association",
				Polygon: []Coord{
					{Lat: 44.2260, Lng: -76.4950},
					{Lat: 44.2260, Lng: -76.4760},
					{Lat: 44.2380, Lng: -76.4760},
					{Lat: 44.2380, Lng: -76.4950},
				},
			},
			{
				ID: "williamsville", Name: "Williamsville", Emoji: "🏘️",
				Persona: "Williamsville residents' coalition",
				Polygon: []Coord{
					{Lat: 44.2380, Lng: -76.5100},
					{Lat: 44.2380, Lng: -76.4900},
					{Lat: 44.2480, Lng: -76.4900},
					{Lat: 44.2480, Lng: -76.5100},
				},
			},
			{
				ID: "portsmouth", Name: "Portsmouth", Emoji: "⚓",
				Persona: "Portsmouth harbour neighbours",
				Polygon: []Coord{
					{Lat: 44.2200, Lng: -76.5250},
					{Lat: 44.2200, Lng: -76.5050},
					{Lat: 44.2320, Lng: -76.5050},
					{Lat: 44.2320, Lng: -76.5250},
				},
			},
			{
				ID: "kingscourt", Name: "Kingscourt", Emoji: "🏡",
				Persona: "Kingscourt family association",
				Polygon: []Coord{
					{Lat: 44.2480, Lng: -76.5000},
					{Lat: 44.2480, Lng: -76.4800},
					{Lat: 44.2600, Lng: -76.4800},
					{Lat: 44.2600, Lng: -76.5000},
				},
			},
			{
				ID: "queens", Name: "Queen's Campus", Emoji: "🎓",
				Persona: "Student housing advocates",
				Polygon: []Coord{
					{Lat: 44.2220, Lng: -76.5050},
					{Lat: 44.2220, Lng: -76.4900},
					{Lat: 44.2300, Lng: -76.4900},
					{Lat: 44.2300, Lng: -76.5050},
				},
			},
		},
	}
}
