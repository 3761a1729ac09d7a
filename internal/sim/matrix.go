package sim

import (
	"fmt"
	"math"

	"github.com/medforge/casgen/internal/domain"
)

// rowSumTolerance bounds the floating-point drift allowed when a matrix row
// is checked against 1.
const rowSumTolerance = 1e-6

// TransitionMatrix holds one probability row per non-terminal state. Rows
// are keyed by the state the casualty is leaving; columns by the state it
// may enter next.
type TransitionMatrix struct {
	order []string
	rows  map[string]map[string]float64
}

// MatrixBuilder derives the transition matrix for a scenario's evacuation
// chain. Scenarios are validated before they reach the builder, so malformed
// rates are clamped and reported through Logf rather than failing the job.
type MatrixBuilder struct {
	// Logf receives warnings about clamped rates. Nil discards them.
	Logf func(format string, args ...any)
}

func (b *MatrixBuilder) logf(format string, args ...any) {
	if b.Logf != nil {
		b.Logf(format, args...)
	}
}

// Build constructs the matrix from an ordered facility chain and the KIA
// rate at the point of injury. The final stage folds its advance probability
// into RTD so every walk terminates. An empty chain routes POI survivors
// straight to RTD.
func (b *MatrixBuilder) Build(chain []domain.FacilityStage, poiKIARate float64) *TransitionMatrix {
	m := &TransitionMatrix{
		order: make([]string, 0, len(chain)+1),
		rows:  make(map[string]map[string]float64, len(chain)+1),
	}

	poiKIA := clamp01(poiKIARate)
	if poiKIA != poiKIARate {
		b.logf("matrix: poi kia rate %g clamped to %g", poiKIARate, poiKIA)
	}
	poiRow := map[string]float64{domain.StateKIA: poiKIA}
	if len(chain) == 0 {
		poiRow[domain.StateRTD] = 1 - poiKIA
	} else {
		poiRow[chain[0].ID] = 1 - poiKIA
	}
	m.order = append(m.order, domain.StatePOI)
	m.rows[domain.StatePOI] = poiRow

	for i, stage := range chain {
		remaining := 1 - stage.KIARate - stage.RTDRate
		if remaining < -rowSumTolerance {
			b.logf("matrix: stage %s kia_rate + rtd_rate = %g exceeds 1, clamping advance to 0",
				stage.ID, stage.KIARate+stage.RTDRate)
		}
		remaining = clamp01(remaining)

		row := map[string]float64{
			domain.StateKIA: stage.KIARate,
			domain.StateRTD: stage.RTDRate,
		}
		if i < len(chain)-1 {
			row[chain[i+1].ID] = remaining
		} else {
			row[domain.StateRTD] += remaining
		}
		m.order = append(m.order, stage.ID)
		m.rows[stage.ID] = row
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Row returns a copy of the probability row for the given state.
func (m *TransitionMatrix) Row(state string) (map[string]float64, bool) {
	row, ok := m.rows[state]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(row))
	for next, p := range row {
		out[next] = p
	}
	return out, true
}

// States returns the non-terminal states in chain order, starting at POI.
func (m *TransitionMatrix) States() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Rows returns a deep copy of the full matrix, suitable for serialization.
func (m *TransitionMatrix) Rows() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(m.rows))
	for state := range m.rows {
		row, _ := m.Row(state)
		out[state] = row
	}
	return out
}

// Validate checks that every row's probabilities are within [0, 1] and sum
// to 1 within tolerance. Matrices built from a validated scenario always
// pass.
func (m *TransitionMatrix) Validate() error {
	for _, state := range m.order {
		sum := 0.0
		for next, p := range m.rows[state] {
			if p < 0 || p > 1 {
				return domain.NewEngineError(domain.ErrRateOutOfRange.Code,
					fmt.Sprintf("row %s: probability %g for %s out of range [0, 1]", state, p, next))
			}
			sum += p
		}
		if math.Abs(sum-1) > rowSumTolerance {
			return domain.NewEngineError(domain.ErrMatrixRowSum.Code,
				fmt.Sprintf("row %s sums to %.9f, want 1", state, sum))
		}
	}
	return nil
}
