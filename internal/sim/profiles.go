package sim

import "github.com/medforge/casgen/internal/domain"

// roleTreatments lists the placeholder interventions recorded on arrival at
// each echelon. The medical enrichment phase layers conditions and vitals on
// top of these.
var roleTreatments = map[domain.FacilityKind][]string{
	domain.KindRole1: {"hemorrhage control", "airway management", "analgesia"},
	domain.KindRole2: {"damage control resuscitation", "blood transfusion", "splinting"},
	domain.KindRole3: {"damage control surgery", "icu admission", "ct imaging"},
	domain.KindRole4: {"definitive surgery", "rehabilitation planning"},
}

// placeholderTreatments returns a fresh treatment list for a stage arrival.
// Immediate (T1) casualties at the first echelon additionally get a
// tourniquet entry.
func placeholderTreatments(kind domain.FacilityKind, triage domain.TriageCategory) []string {
	base := roleTreatments[kind]
	out := make([]string, 0, len(base)+1)
	if kind == domain.KindRole1 && triage == domain.TriageT1 {
		out = append(out, "tourniquet")
	}
	out = append(out, base...)
	return out
}
