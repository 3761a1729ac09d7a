package enrich

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medforge/casgen/internal/domain"
)

const (
	serviceNumberSystem  = "urn:casgen:service-number"
	nationalityExtension = "http://hl7.org/fhir/StructureDefinition/patient-nationality"
)

// BundleBuilder turns an enriched casualty into a FHIR collection bundle:
// one Patient, a Condition per diagnosis, and an Encounter with Procedures
// and Observations per facility visited. Resource URNs are UUIDv5 values
// derived from the casualty id, so the same seed yields the same bundle.
type BundleBuilder struct{}

func casualtyURN(id int, kind string, n int) string {
	name := fmt.Sprintf("casgen:%s:%d:%d", kind, id, n)
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func fhirTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// Build assembles the bundle for one casualty. The casualty must already
// carry demographics and conditions.
func (b *BundleBuilder) Build(c domain.Casualty) Bundle {
	patientURN := casualtyURN(c.ID, "patient", 0)
	patientRef := Reference{Reference: patientURN}

	patient := Patient{
		ResourceType: "Patient",
		ID:           fmt.Sprintf("patient-%d", c.ID),
		Gender:       string(c.Gender),
		Extension: []Extension{
			{URL: nationalityExtension, ValueCode: c.Nationality},
		},
	}
	if d := c.Demographics; d != nil {
		patient.Identifier = []Identifier{{System: serviceNumberSystem, Value: d.ServiceNumber}}
		patient.Name = []HumanName{{Family: d.FamilyName, Given: []string{d.GivenName}}}
		patient.BirthDate = d.BirthDate
	}

	entries := []Entry{{FullURL: patientURN, Resource: patient}}

	var lastEvent int64
	for i, cond := range c.Conditions {
		var severity *CodeableConcept
		if cond.Severity != "" {
			severity = &CodeableConcept{Text: cond.Severity}
		}
		entries = append(entries, Entry{
			FullURL: casualtyURN(c.ID, "condition", i),
			Resource: Condition{
				ResourceType: "Condition",
				ID:           fmt.Sprintf("condition-%d-%d", c.ID, i),
				Code: CodeableConcept{
					Coding: []Coding{{System: cond.System, Code: cond.Code, Display: cond.Display}},
					Text:   cond.Display,
				},
				Severity: severity,
				Subject:  patientRef,
			},
		})
	}

	for i, visit := range c.TreatmentHistory {
		if visit.Timestamp > lastEvent {
			lastEvent = visit.Timestamp
		}
		encURN := casualtyURN(c.ID, "encounter", i)
		encRef := Reference{Reference: encURN, Display: visit.FacilityID}
		entries = append(entries, Entry{
			FullURL: encURN,
			Resource: Encounter{
				ResourceType: "Encounter",
				ID:           fmt.Sprintf("encounter-%d-%d", c.ID, i),
				Status:       "finished",
				Class: Coding{
					System: "http://terminology.hl7.org/CodeSystem/v3-ActCode",
					Code:   "EMER",
				},
				Subject:         patientRef,
				Period:          &Period{Start: fhirTime(visit.Timestamp)},
				ServiceProvider: &Reference{Reference: "Organization/" + visit.FacilityID, Display: visit.FacilityID},
			},
		})

		for j, treatment := range visit.Treatments {
			entries = append(entries, Entry{
				FullURL: casualtyURN(c.ID, fmt.Sprintf("procedure-%d", i), j),
				Resource: Procedure{
					ResourceType:      "Procedure",
					ID:                fmt.Sprintf("procedure-%d-%d-%d", c.ID, i, j),
					Status:            "completed",
					Code:              CodeableConcept{Text: treatment},
					Subject:           patientRef,
					Encounter:         &encRef,
					PerformedDateTime: fhirTime(visit.Timestamp),
				},
			})
		}
		for j, obs := range visit.Observations {
			entries = append(entries, Entry{
				FullURL: casualtyURN(c.ID, fmt.Sprintf("observation-%d", i), j),
				Resource: Observation{
					ResourceType: "Observation",
					ID:           fmt.Sprintf("observation-%d-%d-%d", c.ID, i, j),
					Status:       "final",
					Code: CodeableConcept{
						Coding: []Coding{{System: "http://loinc.org", Code: obs.Code, Display: obs.Display}},
						Text:   obs.Display,
					},
					Subject:           patientRef,
					EffectiveDateTime: fhirTime(visit.Timestamp),
					ValueQuantity:     &Quantity{Value: obs.Value, Unit: obs.Unit},
				},
			})
		}
	}

	bundle := Bundle{
		ResourceType: "Bundle",
		ID:           fmt.Sprintf("casualty-%d", c.ID),
		Type:         "collection",
		Entry:        entries,
	}
	if lastEvent > 0 {
		bundle.Timestamp = fhirTime(lastEvent)
	}
	return bundle
}
