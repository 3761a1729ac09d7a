package scenario

import "fmt"

// Linter inspects a valid scenario for modelling choices that usually signal
// a mistake. Findings are advisory and never block a job.
type Linter struct{}

// Check examines the scenario and returns whether anything was flagged and
// the list of warnings.
func (l *Linter) Check(s *Scenario) (flagged bool, warnings []string) {
	if s.POIKIARate > 0.5 {
		warnings = append(warnings, fmt.Sprintf(
			"poi_kia_rate %g means most casualties die before reaching care", s.POIKIARate))
	}
	for _, st := range s.Stages {
		forward := 1 - st.KIARate - st.RTDRate
		if forward < 0.05 {
			warnings = append(warnings, fmt.Sprintf(
				"stage %s forwards only %.1f%% of casualties; later stages will starve",
				st.ID, forward*100))
		}
	}
	if s.Population > 1_000_000 {
		warnings = append(warnings, fmt.Sprintf(
			"population_size %d will be generated in many chunks; expect a long run", s.Population))
	}
	for _, f := range s.Fronts {
		if len(f.NationalityShares) == 1 {
			warnings = append(warnings, fmt.Sprintf(
				"front %s has a single nationality", f.ID))
		}
		if f.CasualtyWeight == 0 {
			warnings = append(warnings, fmt.Sprintf(
				"front %s has zero casualty_weight and will never be selected", f.ID))
		}
	}
	if t1, ok := s.TriageShares["T1"]; ok && t1 > 50 {
		warnings = append(warnings, fmt.Sprintf(
			"triage_distribution assigns %g%% to T1; real campaigns rarely exceed 30%%", t1))
	}
	for injury := range s.TriageByInjury {
		if _, ok := s.InjuryShares[injury]; !ok {
			warnings = append(warnings, fmt.Sprintf(
				"triage_by_injury[%s] has no matching entry in injury_distribution", injury))
		}
	}
	return len(warnings) > 0, warnings
}
