package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Scenario / Simulation errors (-32010 to -32039) ----

var (
	ErrScenarioInvalid   = &EngineError{Code: -32010, Message: "scenario validation failed"}
	ErrScenarioNotFound  = &EngineError{Code: -32011, Message: "scenario not found"}
	ErrRateOutOfRange    = &EngineError{Code: -32012, Message: "rate must be within [0, 1]"}
	ErrMatrixRowSum      = &EngineError{Code: -32013, Message: "transition matrix row does not sum to 1"}
	ErrNoSelection       = &EngineError{Code: -32014, Message: "weighted selection over an empty distribution"}
	ErrUnknownState      = &EngineError{Code: -32015, Message: "state has no transition row"}
	ErrWalkNotTerminated = &EngineError{Code: -32016, Message: "evacuation walk exceeded step bound without terminating"}
	ErrDuplicateScenario = &EngineError{Code: -32017, Message: "scenario already exists"}
)

// ---- Job / Pipeline errors (-32040 to -32069) ----

var (
	ErrJobNotFound       = &EngineError{Code: -32040, Message: "job not found"}
	ErrDuplicateJob      = &EngineError{Code: -32041, Message: "job already exists"}
	ErrInvalidJobStatus  = &EngineError{Code: -32042, Message: "invalid job status transition"}
	ErrJobAlreadyDone    = &EngineError{Code: -32043, Message: "job is already in a terminal state"}
	ErrOptimisticLock    = &EngineError{Code: -32044, Message: "optimistic lock conflict: job was modified concurrently"}
	ErrPipelineAborted   = &EngineError{Code: -32045, Message: "pipeline aborted"}
	ErrBatchFailed       = &EngineError{Code: -32046, Message: "batch processing failed"}
	ErrInvalidPopulation = &EngineError{Code: -32047, Message: "population size must be positive"}
	ErrNoCasualties      = &EngineError{Code: -32048, Message: "pipeline produced no casualties"}
)

// ---- Output / Artifact errors (-32070 to -32099) ----

var (
	ErrOutputWrite      = &EngineError{Code: -32070, Message: "output write failed"}
	ErrCompression      = &EngineError{Code: -32071, Message: "output compression failed"}
	ErrEncryption       = &EngineError{Code: -32072, Message: "output encryption failed"}
	ErrEncryptionKey    = &EngineError{Code: -32073, Message: "encryption key must be 16, 24, or 32 bytes"}
	ErrArtifactNotFound = &EngineError{Code: -32074, Message: "artifact not found"}
	ErrArtifactStore    = &EngineError{Code: -32075, Message: "artifact store operation failed"}
	ErrChecksumMismatch = &EngineError{Code: -32076, Message: "artifact checksum mismatch"}
)

// ---- Guard / Auth errors (-32100 to -32129) ----

var (
	ErrUnauthorized      = &EngineError{Code: -32100, Message: "missing or unknown API key"}
	ErrPermissionDenied  = &EngineError{Code: -32101, Message: "permission denied"}
	ErrRateLimitExceeded = &EngineError{Code: -32102, Message: "rate limit exceeded"}
	ErrJobLimitReached   = &EngineError{Code: -32103, Message: "maximum concurrent jobs reached"}
	ErrKeyDisabled       = &EngineError{Code: -32104, Message: "API key is disabled"}
	ErrTokenInvalid      = &EngineError{Code: -32105, Message: "invalid token"}
	ErrTokenExpired      = &EngineError{Code: -32106, Message: "token expired"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit          = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery         = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite         = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration    = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid      = &EngineError{Code: -32134, Message: "invalid configuration"}
	ErrDuplicateEvent     = &EngineError{Code: -32135, Message: "duplicate event sequence number"}
	ErrArchiveUnavailable = &EngineError{Code: -32136, Message: "archive database unavailable"}
)
