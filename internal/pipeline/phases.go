package pipeline

import "github.com/medforge/casgen/internal/domain"

// phaseSpan is one phase's slice of the overall progress scale. Start is the
// cumulative weight of every earlier phase, so the spans tile 0..100.
type phaseSpan struct {
	Name        string
	Description string
	Start       int
	Weight      int
}

// phaseTable lists the pipeline phases in execution order. Weights sum to
// 100. A phase that does not run keeps its span; progress crosses it in a
// single step when the next phase begins, and weights are never reallocated.
var phaseTable = []phaseSpan{
	{Name: domain.PhaseInitializing, Description: "preparing scenario and transition matrix", Weight: 5},
	{Name: domain.PhaseFlow, Description: "simulating casualty flow", Weight: 15},
	{Name: domain.PhaseDemographics, Description: "generating demographics", Weight: 20},
	{Name: domain.PhaseMedical, Description: "attaching conditions and vitals", Weight: 15},
	{Name: domain.PhaseBundle, Description: "assembling FHIR bundles", Weight: 25},
	{Name: domain.PhaseFormat, Description: "writing output files", Weight: 10},
	{Name: domain.PhaseCompress, Description: "compressing output", Weight: 5},
	{Name: domain.PhaseEncrypt, Description: "encrypting output", Weight: 5},
}

func init() {
	start := 0
	for i := range phaseTable {
		phaseTable[i].Start = start
		start += phaseTable[i].Weight
	}
}

// spanFor returns the progress span of a phase. Unknown names map to a
// zero-width span at 100 so a bad caller cannot move progress backwards.
func spanFor(name string) phaseSpan {
	for _, s := range phaseTable {
		if s.Name == name {
			return s
		}
	}
	return phaseSpan{Name: name, Start: 100}
}

// overallAt maps a percentage within a span to the overall progress scale,
// truncating toward zero.
func overallAt(s phaseSpan, phasePct int) int {
	if phasePct < 0 {
		phasePct = 0
	}
	if phasePct > 100 {
		phasePct = 100
	}
	return s.Start + s.Weight*phasePct/100
}
