package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/medforge/casgen/internal/domain"
)

func TestBuildSummary(t *testing.T) {
	job := &domain.GenerationJob{Requested: 6, FailedBatches: 1}
	casualties := []domain.Casualty{
		{Nationality: "UKR", Front: "north", InjuryType: "blast", FinalStatus: domain.StateKIA},
		{Nationality: "UKR", Front: "north", InjuryType: "gunshot", FinalStatus: domain.StateRTD},
		{Nationality: "UKR", Front: "south", InjuryType: "blast", FinalStatus: domain.StateRTD},
		{Nationality: "POL", Front: "south", InjuryType: "burn", FinalStatus: domain.StateRTD},
	}

	s := buildSummary(job, casualties, 2*time.Second)

	if s.Requested != 6 || s.Produced != 4 || s.DroppedCasualties != 2 {
		t.Errorf("requested/produced/dropped = %d/%d/%d, want 6/4/2",
			s.Requested, s.Produced, s.DroppedCasualties)
	}
	if s.FailedBatches != 1 {
		t.Errorf("FailedBatches = %d, want 1", s.FailedBatches)
	}
	if s.ByNationality["UKR"] != 3 || s.ByNationality["POL"] != 1 {
		t.Errorf("ByNationality = %v", s.ByNationality)
	}
	if s.ByFront["north"] != 2 || s.ByFront["south"] != 2 {
		t.Errorf("ByFront = %v", s.ByFront)
	}
	if s.ByInjuryType["blast"] != 2 || s.ByInjuryType["gunshot"] != 1 || s.ByInjuryType["burn"] != 1 {
		t.Errorf("ByInjuryType = %v", s.ByInjuryType)
	}
	if s.ByFinalStatus[domain.StateKIA] != 1 || s.ByFinalStatus[domain.StateRTD] != 3 {
		t.Errorf("ByFinalStatus = %v", s.ByFinalStatus)
	}
	if math.Abs(s.KIAFraction-0.25) > 1e-9 || math.Abs(s.RTDFraction-0.75) > 1e-9 {
		t.Errorf("fractions = %.3f/%.3f, want 0.25/0.75", s.KIAFraction, s.RTDFraction)
	}
	if math.Abs(s.PerSecond-2) > 1e-9 {
		t.Errorf("PerSecond = %.3f, want 2", s.PerSecond)
	}
	if s.DurationSeconds != 2 {
		t.Errorf("DurationSeconds = %.3f, want 2", s.DurationSeconds)
	}
}

func TestBuildSummaryNoCasualties(t *testing.T) {
	job := &domain.GenerationJob{Requested: 10}

	s := buildSummary(job, nil, 0)

	if s.Produced != 0 || s.DroppedCasualties != 10 {
		t.Errorf("produced/dropped = %d/%d, want 0/10", s.Produced, s.DroppedCasualties)
	}
	if s.KIAFraction != 0 || s.RTDFraction != 0 || s.PerSecond != 0 {
		t.Errorf("rates should stay zero with no casualties: %+v", s)
	}
}
