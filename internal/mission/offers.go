package mission

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// offerTemplate is one simulated incident type.
type offerTemplate struct {
	Type        string
	Priority    Priority
	Address     string
	Description string
}

var offerTemplates = []offerTemplate{
	{
		Type:        "Medical Emergency",
		Priority:    PriorityCritical,
		Address:     "Königsallee 60, 40212 Düsseldorf",
		Description: "Person unconscious, not breathing. CPR in progress by bystander.",
	},
	{
		Type:        "Fire",
		Priority:    PriorityHigh,
		Address:     "Rheinuferpromenade, 40213 Düsseldorf",
		Description: "Small fire reported in commercial building. Evacuation underway.",
	},
	{
		Type:        "Traffic Accident",
		Priority:    PriorityHigh,
		Address:     "Oberkasseler Brücke, 40221 Düsseldorf",
		Description: "Vehicle collision with possible injuries. Two cars involved.",
	},
	{
		Type:        "Welfare Check",
		Priority:    PriorityMedium,
		Address:     "Carlsplatz 1, 40213 Düsseldorf",
		Description: "Elderly person not responding to calls. Last seen 2 days ago.",
	},
	{
		Type:        "Assist Police",
		Priority:    PriorityLow,
		Address:     "Hofgarten, 40213 Düsseldorf",
		Description: "Police request medical standby for crowd control event.",
	},
}

// OfferGenerator produces synthetic mission offers near a center point,
// used by the admin trigger and demo runs.
type OfferGenerator struct {
	centerLat float64
	centerLon float64
	rand      *rand.Rand
}

// NewOfferGenerator creates a generator placing incidents within roughly a
// kilometer of the given center.
func NewOfferGenerator(centerLat, centerLon float64) *OfferGenerator {
	return &OfferGenerator{
		centerLat: centerLat,
		centerLon: centerLon,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns a new simulated offer.
func (g *OfferGenerator) Next() Mission {
	tpl := offerTemplates[g.rand.Intn(len(offerTemplates))]
	// Scatter within ~1km.
	dLat := (g.rand.Float64()*2 - 1) * 1000 / 111000
	dLon := (g.rand.Float64()*2 - 1) * 1000 / 111000
	return Mission{
		ID:       uuid.New().String(),
		Type:     tpl.Type,
		Priority: tpl.Priority,
		Location: IncidentLocation{
			Latitude:  g.centerLat + dLat,
			Longitude: g.centerLon + dLon,
			Address:   tpl.Address,
		},
		Description: tpl.Description,
		CreatedAt:   time.Now().UnixMilli(),
	}
}
