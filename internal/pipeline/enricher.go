package pipeline

import (
	"context"
	"math/rand"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/enrich"
)

// Enricher supplies the per-casualty enrichment steps applied after flow
// simulation. Implementations must be safe for concurrent use; the pipeline
// calls them from multiple workers, each with its own RNG.
type Enricher interface {
	// Demographics fills the casualty's identity attributes.
	Demographics(rng *rand.Rand, c *domain.Casualty) error
	// Conditions attaches diagnoses and per-visit vitals.
	Conditions(rng *rand.Rand, c *domain.Casualty) error
	// Bundle renders the finished casualty into an output document.
	Bundle(c domain.Casualty) (any, error)
}

// Sink receives finished documents in chunks. isAppend is set for every
// chunk after the first, so path-backed sinks extend rather than truncate.
type Sink interface {
	WriteChunk(ctx context.Context, docs []any, isAppend bool) ([]string, error)
}

// StandardEnricher is the built-in Enricher, backed by the generators in
// internal/enrich.
type StandardEnricher struct {
	demographer *enrich.Demographer
	conditions  *enrich.ConditionGenerator
	bundles     *enrich.BundleBuilder
}

// NewStandardEnricher builds the default enricher. refYear anchors the age
// distribution, normally the scenario's start year.
func NewStandardEnricher(refYear int) *StandardEnricher {
	return &StandardEnricher{
		demographer: enrich.NewDemographer(refYear),
		conditions:  &enrich.ConditionGenerator{},
		bundles:     &enrich.BundleBuilder{},
	}
}

func (e *StandardEnricher) Demographics(rng *rand.Rand, c *domain.Casualty) error {
	d := e.demographer.Generate(rng, c.Nationality, c.Gender)
	c.Demographics = &d
	return nil
}

func (e *StandardEnricher) Conditions(rng *rand.Rand, c *domain.Casualty) error {
	c.Conditions = e.conditions.Generate(rng, c.InjuryType, c.Triage)
	for i := range c.TreatmentHistory {
		c.TreatmentHistory[i].Observations = enrich.Vitals(rng, c.Triage)
	}
	return nil
}

func (e *StandardEnricher) Bundle(c domain.Casualty) (any, error) {
	return e.bundles.Build(c), nil
}

// batchRNG derives a deterministic per-batch RNG. The phase salt keeps the
// streams of different phases independent for the same seed.
func batchRNG(seed int64, phaseSalt, index int) *rand.Rand {
	return rand.New(rand.NewSource(seed + int64(phaseSalt)*1_000_003 + int64(index)))
}
