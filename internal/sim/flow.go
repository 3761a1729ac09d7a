package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/scenario"
)

// arrivalHoursTable gives the elapsed hours from injury to arrival at the
// nth stage of the chain. Chains longer than the table extend by one week
// per extra stage.
var arrivalHoursTable = []int64{1, 8, 48, 168}

// FlowSimulator walks casualties through the evacuation chain. It is built
// once per job from an already validated scenario and is safe for concurrent
// use; callers supply a per-batch RNG.
type FlowSimulator struct {
	scn     *scenario.Scenario
	matrix  *TransitionMatrix
	rowPick map[string]*WeightedSelector
	stages  map[string]domain.FacilityStage
	arrival map[string]int64
	fronts  *WeightedSelector
	nats    map[string]*WeightedSelector
	injury  *WeightedSelector
	triage  map[string]*WeightedSelector
	gender  *WeightedSelector
	start   int64
}

// NewFlowSimulator precomputes the transition matrix and all draw tables.
// Scenario validation happens upstream at submission; the matrix builder
// clamps and reports anything malformed through logf (nil discards).
func NewFlowSimulator(s *scenario.Scenario, logf func(format string, args ...any)) (*FlowSimulator, error) {
	s.Normalize()

	b := MatrixBuilder{Logf: logf}
	matrix := b.Build(s.Stages, s.POIKIARate)

	f := &FlowSimulator{
		scn:     s,
		matrix:  matrix,
		rowPick: make(map[string]*WeightedSelector, len(s.Stages)+1),
		stages:  make(map[string]domain.FacilityStage, len(s.Stages)),
		arrival: make(map[string]int64, len(s.Stages)),
		nats:    make(map[string]*WeightedSelector, len(s.Fronts)),
		triage:  make(map[string]*WeightedSelector),
	}

	for _, state := range matrix.States() {
		row, _ := matrix.Row(state)
		f.rowPick[state] = NewWeightedSelector(row)
	}

	for i, stage := range s.Stages {
		f.stages[stage.ID] = stage
		if i < len(arrivalHoursTable) {
			f.arrival[stage.ID] = arrivalHoursTable[i]
		} else {
			extra := int64(i - len(arrivalHoursTable) + 1)
			f.arrival[stage.ID] = arrivalHoursTable[len(arrivalHoursTable)-1] + extra*168
		}
	}

	frontWeights := make(map[string]float64, len(s.Fronts))
	for _, front := range s.Fronts {
		frontWeights[front.ID] = front.CasualtyWeight
		f.nats[front.ID] = NewWeightedSelector(front.NationalityShares)
	}
	f.fronts = NewWeightedSelector(frontWeights)
	f.injury = NewWeightedSelector(s.InjuryShares)
	f.gender = NewWeightedSelector(s.GenderShares)

	flatTriage := NewWeightedSelector(s.TriageShares)
	for injuryType := range s.InjuryShares {
		if row, ok := s.TriageByInjury[injuryType]; ok {
			f.triage[injuryType] = NewWeightedSelector(row)
		} else {
			f.triage[injuryType] = flatTriage
		}
	}

	startDate, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrScenarioInvalid.Code, "start_date", err)
	}
	f.start = startDate.Unix()

	return f, nil
}

// Matrix returns the transition matrix the simulator walks.
func (f *FlowSimulator) Matrix() *TransitionMatrix {
	return f.matrix
}

func draw(sel *WeightedSelector, rng *rand.Rand, what string) (string, error) {
	v, ok := sel.Pick(rng)
	if !ok {
		return "", domain.NewEngineError(domain.ErrNoSelection.Code,
			fmt.Sprintf("%s distribution is empty", what))
	}
	return v, nil
}

// Simulate generates one casualty and walks it to a terminal state. A
// casualty killed at the point of injury has an empty treatment history.
func (f *FlowSimulator) Simulate(rng *rand.Rand, id int) (domain.Casualty, error) {
	c := domain.Casualty{ID: id, CurrentStatus: domain.StatePOI}

	var err error
	if c.Front, err = draw(f.fronts, rng, "front"); err != nil {
		return c, err
	}
	if c.Nationality, err = draw(f.nats[c.Front], rng, "nationality"); err != nil {
		return c, err
	}
	genderVal, err := draw(f.gender, rng, "gender")
	if err != nil {
		return c, err
	}
	c.Gender = domain.Gender(genderVal)
	c.DayOfInjury = 1 + rng.Intn(f.scn.DurationDays)
	if c.InjuryType, err = draw(f.injury, rng, "injury type"); err != nil {
		return c, err
	}
	triageVal, err := draw(f.triage[c.InjuryType], rng, "triage")
	if err != nil {
		return c, err
	}
	c.Triage = domain.TriageCategory(triageVal)

	injuredAt := f.start + int64(c.DayOfInjury-1)*86400
	state := domain.StatePOI
	for steps := 0; steps <= len(f.scn.Stages); steps++ {
		sel, ok := f.rowPick[state]
		if !ok {
			return c, domain.NewEngineError(domain.ErrUnknownState.Code,
				fmt.Sprintf("state %q has no transition row", state))
		}
		next, err := draw(sel, rng, "transition")
		if err != nil {
			return c, err
		}
		if domain.IsTerminal(next) {
			c.CurrentStatus = next
			c.FinalStatus = next
			return c, nil
		}
		stage := f.stages[next]
		c.TreatmentHistory = append(c.TreatmentHistory, domain.TreatmentRecord{
			FacilityID: next,
			Timestamp:  injuredAt + f.arrival[next]*3600,
			Treatments: placeholderTreatments(stage.Kind, c.Triage),
		})
		c.CurrentStatus = next
		state = next
	}
	return c, domain.ErrWalkNotTerminated
}
