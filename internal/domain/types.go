// Package domain defines the core types for the casgen engine.
package domain

// Origin and terminal states of the evacuation state machine. Every other
// state is a facility stage ID taken from the scenario.
const (
	StatePOI = "POI"
	StateKIA = "KIA"
	StateRTD = "RTD"
)

// IsTerminal reports whether a state ends an evacuation walk.
func IsTerminal(state string) bool {
	return state == StateKIA || state == StateRTD
}

// FacilityKind classifies a stage for treatment-profile selection.
type FacilityKind string

const (
	KindRole1 FacilityKind = "role1"
	KindRole2 FacilityKind = "role2"
	KindRole3 FacilityKind = "role3"
	KindRole4 FacilityKind = "role4"
)

// FacilityStage is one echelon of the evacuation chain. Stages are immutable
// once a scenario is loaded and are shared read-only across workers.
type FacilityStage struct {
	ID      string       `json:"id"`
	Order   int          `json:"order"`
	Kind    FacilityKind `json:"kind,omitempty"`
	KIARate float64      `json:"kia_rate"`
	RTDRate float64      `json:"rtd_rate"`
}

// FrontDefinition describes one combat front and its nationality mix.
// NationalityShares are percentages and must sum to 100 within tolerance.
type FrontDefinition struct {
	ID                string             `json:"id"`
	CasualtyWeight    float64            `json:"casualty_weight"`
	NationalityShares map[string]float64 `json:"nationality_distribution"`
}

// TriageCategory is the urgency class assigned at the point of injury.
type TriageCategory string

const (
	TriageT1 TriageCategory = "T1"
	TriageT2 TriageCategory = "T2"
	TriageT3 TriageCategory = "T3"
)

// Gender of a generated casualty.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Observation is a single clinical measurement attached to a treatment record.
type Observation struct {
	Code    string  `json:"code"`
	Display string  `json:"display"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
}

// TreatmentRecord is one entry in a casualty's evacuation timeline: the
// facility reached, when, and what was done there.
type TreatmentRecord struct {
	FacilityID   string        `json:"facility_id"`
	Timestamp    int64         `json:"timestamp_unix"`
	Treatments   []string      `json:"treatments,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
}

// Condition is a coded medical condition generated for a casualty.
type Condition struct {
	System   string `json:"system"`
	Code     string `json:"code"`
	Display  string `json:"display"`
	Severity string `json:"severity,omitempty"`
}

// Demographics holds the identity attributes filled in by the demographics
// phase.
type Demographics struct {
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	ServiceNumber string `json:"service_number"`
	BirthDate     string `json:"birth_date"`
	Rank          string `json:"rank,omitempty"`
	BloodType     string `json:"blood_type,omitempty"`
}

// Casualty is one synthetic patient record. The flow simulator creates it and
// walks it to a terminal state; later pipeline phases mutate it in place.
// After the last phase has run it is treated as immutable.
type Casualty struct {
	ID               int               `json:"id"`
	Front            string            `json:"front"`
	Nationality      string            `json:"nationality"`
	Gender           Gender            `json:"gender"`
	DayOfInjury      int               `json:"day_of_injury"`
	InjuryType       string            `json:"injury_type"`
	Triage           TriageCategory    `json:"triage_category"`
	CurrentStatus    string            `json:"current_status"`
	TreatmentHistory []TreatmentRecord `json:"treatment_history"`
	FinalStatus      string            `json:"final_status,omitempty"`
	Demographics     *Demographics     `json:"demographics,omitempty"`
	Conditions       []Condition       `json:"conditions,omitempty"`
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobInitializing JobStatus = "initializing"
	JobRunning      JobStatus = "running"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
)

// Phase names of the generation pipeline, in execution order.
const (
	PhaseInitializing = "initializing"
	PhaseFlow         = "flow"
	PhaseDemographics = "demographics"
	PhaseMedical      = "medical"
	PhaseBundle       = "bundle"
	PhaseFormat       = "format"
	PhaseCompress     = "compress"
	PhaseEncrypt      = "encrypt"
)

// FailurePolicy controls how the pipeline reacts to batch failures.
type FailurePolicy string

const (
	// BestEffort drops failed batches, records them in the summary, and
	// lets the job complete.
	BestEffort FailurePolicy = "best_effort"
	// FailFast aborts the job on the first batch failure.
	FailFast FailurePolicy = "fail_fast"
)

// ProgressDetail accompanies every progress update delivered to callers.
type ProgressDetail struct {
	Phase             string  `json:"phase"`
	Description       string  `json:"description"`
	PhasePercent      int     `json:"phase_percent"`
	PhaseETASeconds   float64 `json:"phase_eta_seconds"`
	OverallETASeconds float64 `json:"overall_eta_seconds"`
}

// GenerationJob is the persistent record of one generation run.
type GenerationJob struct {
	JobID            string        `json:"job_id"`
	ScenarioID       string        `json:"scenario_id,omitempty"`
	Seed             int64         `json:"seed"`
	WorkerCount      int           `json:"worker_count"`
	BatchSize        int           `json:"batch_size"`
	Policy           FailurePolicy `json:"failure_policy"`
	Status           JobStatus     `json:"status"`
	Progress         int           `json:"progress"`
	Phase            string        `json:"phase,omitempty"`
	PhaseDescription string        `json:"phase_description,omitempty"`
	ETASeconds       float64       `json:"eta_seconds"`
	Requested        int           `json:"requested"`
	Produced         int           `json:"produced"`
	FailedBatches    int           `json:"failed_batches"`
	Error            string        `json:"error,omitempty"`
	StateVersion     int64         `json:"-"`
	LastEventSeq     int64         `json:"-"`
	CreatedAtUnix    int64         `json:"created_at_unix"`
	StartedAtUnix    int64         `json:"started_at_unix,omitempty"`
	CompletedAtUnix  int64         `json:"completed_at_unix,omitempty"`
	OutputFiles      []string      `json:"output_files,omitempty"`
	Summary          *Summary      `json:"summary,omitempty"`
}

// JobEvent is one progress event in a job's event log. Events are
// sequence-numbered per job so stream consumers can resume.
type JobEvent struct {
	ID          int64   `json:"id"`
	JobID       string  `json:"job_id"`
	SeqNo       int64   `json:"seq_no"`
	Progress    int     `json:"progress"`
	Phase       string  `json:"phase"`
	Description string  `json:"description"`
	ETASeconds  float64 `json:"eta_seconds"`
	CreatedAt   int64   `json:"created_at"`
}

// PhaseStat records how one pipeline phase performed for a job.
type PhaseStat struct {
	JobID      string `json:"job_id"`
	Phase      string `json:"phase"`
	DurationMS int64  `json:"duration_ms"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
}

// Summary is the final accounting of a completed job.
type Summary struct {
	Requested         int            `json:"requested"`
	Produced          int            `json:"produced"`
	DroppedCasualties int            `json:"dropped_casualties"`
	FailedBatches     int            `json:"failed_batches"`
	ByNationality     map[string]int `json:"by_nationality"`
	ByFront           map[string]int `json:"by_front"`
	ByInjuryType      map[string]int `json:"by_injury_type"`
	ByFinalStatus     map[string]int `json:"by_final_status"`
	KIAFraction       float64        `json:"kia_fraction"`
	RTDFraction       float64        `json:"rtd_fraction"`
	DurationSeconds   float64        `json:"duration_seconds"`
	PerSecond         float64        `json:"casualties_per_second"`
	OutputFiles       []string       `json:"output_files,omitempty"`
}

// APIKey is an access credential for the HTTP API. Only the SHA-256 hash of
// the secret is stored.
type APIKey struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Hash          string   `json:"-"`
	Scopes        []string `json:"scopes"`
	RatePerMinute int      `json:"rate_per_minute"`
	Disabled      bool     `json:"disabled"`
	CreatedAtUnix int64    `json:"created_at_unix"`
}

// API key scopes.
const (
	ScopeSubmit = "submit"
	ScopeRead   = "read"
	ScopeAdmin  = "admin"
)

// Artifact is an output file produced by a job and registered with the
// artifact store.
type Artifact struct {
	Key           string `json:"key"`
	JobID         string `json:"job_id"`
	SizeBytes     int64  `json:"size_bytes"`
	ContentType   string `json:"content_type,omitempty"`
	SHA256        string `json:"sha256,omitempty"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// AuditRecord logs administrative and job-control actions.
type AuditRecord struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Category  string `json:"category"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
	Severity  string `json:"severity"`
	CreatedAt int64  `json:"created_at"`
}
