// Package scenario defines the epidemiological model a generation job runs
// against and the request envelope that carries it.
package scenario

import (
	"sort"

	"github.com/medforge/casgen/internal/domain"
)

// Scenario describes a campaign: how many casualties to generate, where they
// occur, and how they move through the evacuation chain.
type Scenario struct {
	ID           string                   `json:"id,omitempty"`
	Name         string                   `json:"name,omitempty"`
	Population   int                      `json:"population_size"`
	DurationDays int                      `json:"duration_days"`
	StartDate    string                   `json:"start_date,omitempty"`
	POIKIARate   float64                  `json:"poi_kia_rate"`
	Stages       []domain.FacilityStage   `json:"facility_chain"`
	Fronts       []domain.FrontDefinition `json:"fronts"`
	InjuryShares map[string]float64       `json:"injury_distribution"`
	TriageShares map[string]float64       `json:"triage_distribution"`
	// TriageByInjury overrides TriageShares for specific injury types.
	TriageByInjury map[string]map[string]float64 `json:"triage_by_injury,omitempty"`
	GenderShares   map[string]float64            `json:"gender_distribution"`
}

// OutputOptions selects how job results are serialized.
type OutputOptions struct {
	Formats   []string `json:"formats,omitempty"`
	Compress  bool     `json:"compress"`
	Encrypt   bool     `json:"encrypt"`
	ChunkSize int      `json:"chunk_size,omitempty"`
}

// Request is the envelope submitted to start a generation job. Exactly one of
// Scenario or ScenarioID must be set.
type Request struct {
	Scenario   *Scenario            `json:"scenario,omitempty"`
	ScenarioID string               `json:"scenario_id,omitempty"`
	Seed       int64                `json:"seed,omitempty"`
	Workers    int                  `json:"workers,omitempty"`
	Policy     domain.FailurePolicy `json:"failure_policy,omitempty"`
	Output     OutputOptions        `json:"output"`
}

// Output formats accepted in OutputOptions.Formats.
const (
	FormatNDJSON = "ndjson"
	FormatBundle = "bundle"
)

// Normalize sorts the facility chain, fills derived stage kinds, and applies
// default distributions for the optional fields. Safe to call repeatedly.
func (s *Scenario) Normalize() {
	sort.SliceStable(s.Stages, func(i, j int) bool {
		return s.Stages[i].Order < s.Stages[j].Order
	})
	kinds := []domain.FacilityKind{domain.KindRole1, domain.KindRole2, domain.KindRole3, domain.KindRole4}
	for i := range s.Stages {
		if s.Stages[i].Kind == "" {
			k := i
			if k >= len(kinds) {
				k = len(kinds) - 1
			}
			s.Stages[i].Kind = kinds[k]
		}
	}
	if s.DurationDays == 0 {
		s.DurationDays = 30
	}
	if s.StartDate == "" {
		s.StartDate = "2025-01-01"
	}
	if len(s.InjuryShares) == 0 {
		s.InjuryShares = map[string]float64{
			"gunshot":    30,
			"blast":      40,
			"shrapnel":   15,
			"burn":       5,
			"crush":      5,
			"non_battle": 5,
		}
	}
	if len(s.TriageShares) == 0 {
		s.TriageShares = map[string]float64{
			string(domain.TriageT1): 20,
			string(domain.TriageT2): 30,
			string(domain.TriageT3): 50,
		}
	}
	if len(s.GenderShares) == 0 {
		s.GenderShares = map[string]float64{
			string(domain.GenderMale):   90,
			string(domain.GenderFemale): 10,
		}
	}
}

// Default returns a small complete scenario used by the CLI dry-run mode and
// as a starting template.
func Default() *Scenario {
	s := &Scenario{
		Name:         "two-front-baseline",
		Population:   10000,
		DurationDays: 30,
		POIKIARate:   0.20,
		Stages: []domain.FacilityStage{
			{ID: "R1", Order: 1, KIARate: 0.10, RTDRate: 0.30},
			{ID: "R2", Order: 2, KIARate: 0.05, RTDRate: 0.40},
			{ID: "R3", Order: 3, KIARate: 0.02, RTDRate: 0.60},
		},
		Fronts: []domain.FrontDefinition{
			{
				ID:             "north",
				CasualtyWeight: 60,
				NationalityShares: map[string]float64{
					"USA": 50,
					"GBR": 30,
					"POL": 20,
				},
			},
			{
				ID:             "south",
				CasualtyWeight: 40,
				NationalityShares: map[string]float64{
					"USA": 40,
					"FRA": 35,
					"DEU": 25,
				},
			},
		},
	}
	s.Normalize()
	return s
}
