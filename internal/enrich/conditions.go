package enrich

import (
	"math/rand"

	"github.com/medforge/casgen/internal/domain"
)

const snomedSystem = "http://snomed.info/sct"

type conditionCode struct {
	code    string
	display string
}

var conditionsByInjury = map[string][]conditionCode{
	"gunshot": {
		{"283545005", "Gunshot wound"},
		{"262555000", "Gunshot wound of thorax"},
		{"283546006", "Gunshot wound of limb"},
	},
	"blast": {
		{"217700006", "Blast injury"},
		{"125689001", "Blast injury of abdomen"},
		{"446218003", "Primary blast lung injury"},
	},
	"shrapnel": {
		{"283682007", "Shrapnel wound"},
		{"399963005", "Penetrating fragment wound"},
	},
	"burn": {
		{"125666000", "Burn"},
		{"403190006", "Deep partial thickness burn"},
	},
	"crush": {
		{"125670008", "Crush injury"},
		{"428794004", "Crush syndrome"},
	},
	"non_battle": {
		{"55680006", "Heat exhaustion"},
		{"409586006", "Gastroenteritis"},
		{"125605004", "Fracture from fall"},
	},
}

var fallbackCondition = conditionCode{"417163006", "Traumatic injury"}

var hemorrhageCondition = conditionCode{"50960005", "Acute hemorrhage"}

var severityByTriage = map[domain.TriageCategory]string{
	domain.TriageT1: "severe",
	domain.TriageT2: "moderate",
	domain.TriageT3: "mild",
}

// ConditionGenerator maps an injury type and triage category onto coded
// medical conditions. Immediate (T1) casualties additionally carry an acute
// hemorrhage diagnosis to pair with their shock vitals.
type ConditionGenerator struct{}

// Generate returns the condition list for one casualty.
func (g *ConditionGenerator) Generate(rng *rand.Rand, injuryType string, triage domain.TriageCategory) []domain.Condition {
	candidates, ok := conditionsByInjury[injuryType]
	primary := fallbackCondition
	if ok {
		primary = candidates[rng.Intn(len(candidates))]
	}

	out := []domain.Condition{{
		System:   snomedSystem,
		Code:     primary.code,
		Display:  primary.display,
		Severity: severityByTriage[triage],
	}}
	if triage == domain.TriageT1 {
		out = append(out, domain.Condition{
			System:   snomedSystem,
			Code:     hemorrhageCondition.code,
			Display:  hemorrhageCondition.display,
			Severity: "severe",
		})
	}
	return out
}

// vitalRange is an inclusive sampling band for one vital sign.
type vitalRange struct {
	code    string
	display string
	unit    string
	lo, hi  int
}

// shockVitals describes the observed physiology for each triage category,
// following the hemorrhagic shock classes: T1 maps to class III-IV, T2 to
// class II, T3 to class I.
var shockVitals = map[domain.TriageCategory][]vitalRange{
	domain.TriageT1: {
		{"8867-4", "Heart rate", "/min", 120, 140},
		{"8480-6", "Systolic blood pressure", "mm[Hg]", 70, 90},
		{"9279-1", "Respiratory rate", "/min", 30, 40},
		{"2708-6", "Oxygen saturation", "%", 85, 92},
		{"9269-2", "Glasgow coma score", "{score}", 9, 13},
	},
	domain.TriageT2: {
		{"8867-4", "Heart rate", "/min", 100, 120},
		{"8480-6", "Systolic blood pressure", "mm[Hg]", 90, 105},
		{"9279-1", "Respiratory rate", "/min", 20, 30},
		{"2708-6", "Oxygen saturation", "%", 92, 96},
		{"9269-2", "Glasgow coma score", "{score}", 13, 15},
	},
	domain.TriageT3: {
		{"8867-4", "Heart rate", "/min", 70, 100},
		{"8480-6", "Systolic blood pressure", "mm[Hg]", 105, 125},
		{"9279-1", "Respiratory rate", "/min", 14, 20},
		{"2708-6", "Oxygen saturation", "%", 96, 100},
		{"9269-2", "Glasgow coma score", "{score}", 15, 15},
	},
}

// Vitals samples a set of initial observations consistent with the
// casualty's triage category.
func Vitals(rng *rand.Rand, triage domain.TriageCategory) []domain.Observation {
	ranges, ok := shockVitals[triage]
	if !ok {
		ranges = shockVitals[domain.TriageT3]
	}
	out := make([]domain.Observation, 0, len(ranges))
	for _, r := range ranges {
		v := r.lo
		if r.hi > r.lo {
			v += rng.Intn(r.hi - r.lo + 1)
		}
		out = append(out, domain.Observation{
			Code:    r.code,
			Display: r.display,
			Value:   float64(v),
			Unit:    r.unit,
		})
	}
	return out
}
