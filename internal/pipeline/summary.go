package pipeline

import (
	"time"

	"github.com/medforge/casgen/internal/domain"
)

// buildSummary computes the final accounting for a job from the casualties
// that survived every phase. Fractions are over produced casualties, not
// requested, so dropped records never skew the rates.
func buildSummary(job *domain.GenerationJob, casualties []domain.Casualty, elapsed time.Duration) *domain.Summary {
	s := &domain.Summary{
		Requested:         job.Requested,
		Produced:          len(casualties),
		DroppedCasualties: job.Requested - len(casualties),
		FailedBatches:     job.FailedBatches,
		ByNationality:     make(map[string]int),
		ByFront:           make(map[string]int),
		ByInjuryType:      make(map[string]int),
		ByFinalStatus:     make(map[string]int),
		DurationSeconds:   elapsed.Seconds(),
	}

	var kia, rtd int
	for i := range casualties {
		c := &casualties[i]
		s.ByNationality[c.Nationality]++
		s.ByFront[c.Front]++
		s.ByInjuryType[c.InjuryType]++
		s.ByFinalStatus[c.FinalStatus]++
		switch c.FinalStatus {
		case domain.StateKIA:
			kia++
		case domain.StateRTD:
			rtd++
		}
	}

	if len(casualties) > 0 {
		s.KIAFraction = float64(kia) / float64(len(casualties))
		s.RTDFraction = float64(rtd) / float64(len(casualties))
	}
	if s.DurationSeconds > 0 {
		s.PerSecond = float64(len(casualties)) / s.DurationSeconds
	}
	return s
}
