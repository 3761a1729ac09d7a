package enrich

// Minimal FHIR R4 resource shapes, restricted to the fields the bundle
// builder emits. Field names follow the FHIR JSON conventions.

// Bundle is a collection-type FHIR bundle holding one casualty's record.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Timestamp    string  `json:"timestamp,omitempty"`
	Entry        []Entry `json:"entry"`
}

// Entry wraps one resource inside a bundle.
type Entry struct {
	FullURL  string `json:"fullUrl"`
	Resource any    `json:"resource"`
}

// Coding is a single code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept carries codings plus a human-readable text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference points at another resource in the bundle.
type Reference struct {
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

// Identifier is an external identifier such as a service number.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value"`
}

// HumanName holds a structured person name.
type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Extension carries a coded extension value.
type Extension struct {
	URL       string `json:"url"`
	ValueCode string `json:"valueCode,omitempty"`
}

// Patient is the demographic resource for one casualty.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
	Extension    []Extension  `json:"extension,omitempty"`
}

// Condition is a coded diagnosis attached to the patient.
type Condition struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id"`
	Code         CodeableConcept  `json:"code"`
	Severity     *CodeableConcept `json:"severity,omitempty"`
	Subject      Reference        `json:"subject"`
	RecordedDate string           `json:"recordedDate,omitempty"`
}

// Quantity is a measured value with a unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Observation is a single clinical measurement.
type Observation struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Code              CodeableConcept `json:"code"`
	Subject           Reference       `json:"subject"`
	EffectiveDateTime string          `json:"effectiveDateTime,omitempty"`
	ValueQuantity     *Quantity       `json:"valueQuantity,omitempty"`
}

// Period is a start/end time window.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Encounter records the casualty's stay at one facility.
type Encounter struct {
	ResourceType    string     `json:"resourceType"`
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Class           Coding     `json:"class"`
	Subject         Reference  `json:"subject"`
	Period          *Period    `json:"period,omitempty"`
	ServiceProvider *Reference `json:"serviceProvider,omitempty"`
}

// Procedure is one intervention performed during an encounter.
type Procedure struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Code              CodeableConcept `json:"code"`
	Subject           Reference       `json:"subject"`
	Encounter         *Reference      `json:"encounter,omitempty"`
	PerformedDateTime string          `json:"performedDateTime,omitempty"`
}
