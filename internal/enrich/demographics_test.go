package enrich

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/medforge/casgen/internal/domain"
)

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func TestGenerate_Deterministic(t *testing.T) {
	d := NewDemographer(2025)
	first := d.Generate(rand.New(rand.NewSource(8)), "USA", domain.GenderMale)
	second := d.Generate(rand.New(rand.NewSource(8)), "USA", domain.GenderMale)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed produced different demographics: %+v vs %+v", first, second)
	}
}

func TestGenerate_UsesNationalityTables(t *testing.T) {
	d := NewDemographer(2025)
	rng := rand.New(rand.NewSource(21))
	for i := 0; i < 50; i++ {
		rec := d.Generate(rng, "POL", domain.GenderMale)
		set := namesByNationality["POL"]
		if !contains(set.male, rec.GivenName) {
			t.Fatalf("given name %q not in POL male table", rec.GivenName)
		}
		if !contains(set.family, rec.FamilyName) {
			t.Fatalf("family name %q not in POL family table", rec.FamilyName)
		}
		if !strings.HasPrefix(rec.ServiceNumber, "POL-") {
			t.Fatalf("service number %q missing nationality prefix", rec.ServiceNumber)
		}
	}
}

func TestGenerate_FemaleDrawsFemaleNames(t *testing.T) {
	d := NewDemographer(2025)
	rng := rand.New(rand.NewSource(22))
	for i := 0; i < 50; i++ {
		rec := d.Generate(rng, "DEU", domain.GenderFemale)
		if !contains(namesByNationality["DEU"].female, rec.GivenName) {
			t.Fatalf("given name %q not in DEU female table", rec.GivenName)
		}
	}
}

func TestGenerate_UnknownNationalityFallsBack(t *testing.T) {
	d := NewDemographer(2025)
	rng := rand.New(rand.NewSource(23))
	rec := d.Generate(rng, "ZZZ", domain.GenderMale)
	if !contains(fallbackNames.male, rec.GivenName) {
		t.Fatalf("given name %q not in fallback table", rec.GivenName)
	}
	if !contains(fallbackNames.family, rec.FamilyName) {
		t.Fatalf("family name %q not in fallback table", rec.FamilyName)
	}
}

func TestGenerate_BirthDateWithinServiceAge(t *testing.T) {
	d := NewDemographer(2025)
	rng := rand.New(rand.NewSource(24))
	for i := 0; i < 200; i++ {
		rec := d.Generate(rng, "USA", domain.GenderMale)
		var year, month, day int
		if n, err := fmt.Sscanf(rec.BirthDate, "%d-%d-%d", &year, &month, &day); err != nil || n != 3 {
			t.Fatalf("birth date %q not in YYYY-MM-DD form", rec.BirthDate)
		}
		age := 2025 - year
		if age < 18 || age > 45 {
			t.Fatalf("birth date %q implies age %d, want [18, 45]", rec.BirthDate, age)
		}
		if month < 1 || month > 12 || day < 1 || day > 28 {
			t.Fatalf("birth date %q has out-of-range month or day", rec.BirthDate)
		}
	}
}
