// Package enrich fills generated casualties with demographics, coded medical
// conditions, and FHIR bundle documents. All generators draw from a
// caller-supplied RNG so a seeded job reproduces byte-identical output.
package enrich

import (
	"fmt"
	"math/rand"

	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/sim"
)

type nameSet struct {
	male   []string
	female []string
	family []string
}

var namesByNationality = map[string]nameSet{
	"USA": {
		male:   []string{"James", "Michael", "Robert", "David", "William", "Christopher", "Matthew", "Daniel"},
		female: []string{"Sarah", "Jennifer", "Emily", "Jessica", "Ashley", "Amanda"},
		family: []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Miller", "Davis", "Wilson"},
	},
	"GBR": {
		male:   []string{"Oliver", "George", "Harry", "Jack", "Thomas", "Charlie"},
		female: []string{"Olivia", "Amelia", "Isla", "Emily", "Sophie"},
		family: []string{"Smith", "Jones", "Taylor", "Brown", "Williams", "Evans"},
	},
	"POL": {
		male:   []string{"Jakub", "Szymon", "Jan", "Antoni", "Filip"},
		female: []string{"Zuzanna", "Julia", "Maja", "Zofia"},
		family: []string{"Nowak", "Kowalski", "Wisniewski", "Wojcik", "Kaminski"},
	},
	"FRA": {
		male:   []string{"Gabriel", "Louis", "Raphael", "Jules", "Lucas"},
		female: []string{"Emma", "Louise", "Alice", "Chloe"},
		family: []string{"Martin", "Bernard", "Dubois", "Thomas", "Robert"},
	},
	"DEU": {
		male:   []string{"Maximilian", "Alexander", "Paul", "Leon", "Felix"},
		female: []string{"Mia", "Emma", "Hannah", "Sofia"},
		family: []string{"Mueller", "Schmidt", "Schneider", "Fischer", "Weber"},
	},
}

var fallbackNames = nameSet{
	male:   []string{"Alex", "Daniel", "Mark", "Peter"},
	female: []string{"Anna", "Maria", "Eva", "Sara"},
	family: []string{"Novak", "Petrov", "Santos", "Kim"},
}

var rankWeights = map[string]float64{
	"private":        30,
	"corporal":       20,
	"sergeant":       15,
	"staff sergeant": 10,
	"lieutenant":     10,
	"captain":        8,
	"major":          5,
	"colonel":        2,
}

var bloodTypeWeights = map[string]float64{
	"O+": 38, "A+": 34, "B+": 9, "AB+": 3,
	"O-": 7, "A-": 6, "B-": 2, "AB-": 1,
}

// Demographer generates identity records for casualties. Name tables cover
// the common nationalities; anything else falls back to a generic set so an
// unknown nationality never fails enrichment.
type Demographer struct {
	// RefYear anchors birth dates; ages are drawn from [18, 45].
	RefYear int

	rank  *sim.WeightedSelector
	blood *sim.WeightedSelector
}

// NewDemographer creates a Demographer anchored at the given reference year.
func NewDemographer(refYear int) *Demographer {
	return &Demographer{
		RefYear: refYear,
		rank:    sim.NewWeightedSelector(rankWeights),
		blood:   sim.NewWeightedSelector(bloodTypeWeights),
	}
}

// Generate produces a demographics record for one casualty.
func (d *Demographer) Generate(rng *rand.Rand, nationality string, gender domain.Gender) domain.Demographics {
	names, ok := namesByNationality[nationality]
	if !ok {
		names = fallbackNames
	}
	given := names.male
	if gender == domain.GenderFemale {
		given = names.female
	}

	age := 18 + rng.Intn(28)
	rank, _ := d.rank.Pick(rng)
	blood, _ := d.blood.Pick(rng)

	return domain.Demographics{
		GivenName:     given[rng.Intn(len(given))],
		FamilyName:    names.family[rng.Intn(len(names.family))],
		ServiceNumber: fmt.Sprintf("%s-%08d", nationality, rng.Intn(100000000)),
		BirthDate:     fmt.Sprintf("%04d-%02d-%02d", d.RefYear-age, 1+rng.Intn(12), 1+rng.Intn(28)),
		Rank:          rank,
		BloodType:     blood,
	}
}
