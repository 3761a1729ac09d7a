package scenario

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

// shareTolerance is the slack allowed when percentage maps are checked
// against 100.
const shareTolerance = 0.001

// Validator checks a scenario against the structural rules the simulator
// depends on.
type Validator struct{}

// Validate checks all fields of the given scenario and returns an error
// listing all violations if any are found.
func (v *Validator) Validate(s *Scenario) error {
	var violations []string

	if s.Population <= 0 {
		violations = append(violations, fmt.Sprintf("population_size %d must be positive", s.Population))
	}
	if s.DurationDays <= 0 {
		violations = append(violations, fmt.Sprintf("duration_days %d must be positive", s.DurationDays))
	}
	if s.StartDate != "" {
		if _, err := time.Parse("2006-01-02", s.StartDate); err != nil {
			violations = append(violations, fmt.Sprintf("start_date %q is not a valid YYYY-MM-DD date", s.StartDate))
		}
	}
	if s.POIKIARate < 0 || s.POIKIARate > 1 {
		violations = append(violations, fmt.Sprintf("poi_kia_rate %g out of range [0, 1]", s.POIKIARate))
	}

	if len(s.Stages) == 0 {
		violations = append(violations, "facility_chain must contain at least one stage")
	}
	seen := make(map[string]bool, len(s.Stages))
	for i, st := range s.Stages {
		if st.ID == "" {
			violations = append(violations, fmt.Sprintf("facility_chain[%d] has empty id", i))
			continue
		}
		if domain.IsTerminal(st.ID) || st.ID == domain.StatePOI {
			violations = append(violations, fmt.Sprintf("facility_chain[%d] id %q is a reserved state name", i, st.ID))
		}
		if seen[st.ID] {
			violations = append(violations, fmt.Sprintf("facility_chain[%d] duplicates id %q", i, st.ID))
		}
		seen[st.ID] = true
		if st.KIARate < 0 || st.KIARate > 1 {
			violations = append(violations, fmt.Sprintf("stage %s kia_rate %g out of range [0, 1]", st.ID, st.KIARate))
		}
		if st.RTDRate < 0 || st.RTDRate > 1 {
			violations = append(violations, fmt.Sprintf("stage %s rtd_rate %g out of range [0, 1]", st.ID, st.RTDRate))
		}
		if st.KIARate+st.RTDRate > 1+shareTolerance {
			violations = append(violations, fmt.Sprintf("stage %s kia_rate + rtd_rate = %g exceeds 1", st.ID, st.KIARate+st.RTDRate))
		}
	}

	if len(s.Fronts) == 0 {
		violations = append(violations, "fronts must contain at least one entry")
	}
	frontIDs := make(map[string]bool, len(s.Fronts))
	for i, f := range s.Fronts {
		if f.ID == "" {
			violations = append(violations, fmt.Sprintf("fronts[%d] has empty id", i))
			continue
		}
		if frontIDs[f.ID] {
			violations = append(violations, fmt.Sprintf("fronts[%d] duplicates id %q", i, f.ID))
		}
		frontIDs[f.ID] = true
		if f.CasualtyWeight < 0 {
			violations = append(violations, fmt.Sprintf("front %s casualty_weight %g must be non-negative", f.ID, f.CasualtyWeight))
		}
		if len(f.NationalityShares) == 0 {
			violations = append(violations, fmt.Sprintf("front %s has no nationality_distribution", f.ID))
			continue
		}
		if err := checkShares(f.NationalityShares); err != "" {
			violations = append(violations, fmt.Sprintf("front %s nationality_distribution %s", f.ID, err))
		}
	}

	if len(s.InjuryShares) > 0 {
		if err := checkShares(s.InjuryShares); err != "" {
			violations = append(violations, "injury_distribution "+err)
		}
	}
	if len(s.TriageShares) > 0 {
		for cat := range s.TriageShares {
			switch domain.TriageCategory(cat) {
			case domain.TriageT1, domain.TriageT2, domain.TriageT3:
			default:
				violations = append(violations, fmt.Sprintf("triage_distribution key %q is not a triage category", cat))
			}
		}
		if err := checkShares(s.TriageShares); err != "" {
			violations = append(violations, "triage_distribution "+err)
		}
	}
	for injury, row := range s.TriageByInjury {
		for cat := range row {
			switch domain.TriageCategory(cat) {
			case domain.TriageT1, domain.TriageT2, domain.TriageT3:
			default:
				violations = append(violations, fmt.Sprintf("triage_by_injury[%s] key %q is not a triage category", injury, cat))
			}
		}
		if err := checkShares(row); err != "" {
			violations = append(violations, fmt.Sprintf("triage_by_injury[%s] %s", injury, err))
		}
	}
	if len(s.GenderShares) > 0 {
		if err := checkShares(s.GenderShares); err != "" {
			violations = append(violations, "gender_distribution "+err)
		}
	}

	if len(violations) > 0 {
		msg := strings.Join(violations, "; ")
		return domain.NewEngineError(domain.ErrScenarioInvalid.Code, msg)
	}
	return nil
}

// checkShares verifies a percentage map: non-negative values summing to 100.
// Returns an empty string when the map is valid.
func checkShares(shares map[string]float64) string {
	sum := 0.0
	for key, pct := range shares {
		if pct < 0 {
			return fmt.Sprintf("share %q is negative", key)
		}
		sum += pct
	}
	if math.Abs(sum-100) > shareTolerance {
		return fmt.Sprintf("sums to %g, want 100", sum)
	}
	return ""
}

// Parse decodes, normalizes, and validates a scenario from JSON.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, domain.WrapEngineError(domain.ErrScenarioInvalid.Code, "scenario is not valid JSON", err)
	}
	s.Normalize()
	var v Validator
	if err := v.Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
