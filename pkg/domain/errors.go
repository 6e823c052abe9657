package domain

import "errors"

// Category is the closed set of event and failure categories.
// Error categories are shared by the failure taxonomy and the event log,
// the remaining ones are used only for informational events.
type Category string

// failure categories
const (
	CatAuth               Category = "auth"
	CatQuota              Category = "quota"
	CatTransient          Category = "transient-network"
	CatRateLimited        Category = "rate-limited"
	CatScriptInvalid      Category = "script-invalid"
	CatNoSuitableClip     Category = "no-suitable-clip"
	CatAVDrift            Category = "av-drift"
	CatEncoder            Category = "encoder"
	CatUploadPermanent    Category = "upload-permanent"
	CatStore              Category = "store"
	CatDuplicateExhausted Category = "duplicate-exhausted"
	CatValidation         Category = "validation"
	CatDependencyMissing  Category = "dependency-missing"
)

// informational categories
const (
	CatLifecycle  Category = "lifecycle"
	CatGeneration Category = "generation"
	CatPublish    Category = "publish"
	CatStrategy   Category = "strategy"
	CatTrend      Category = "trend"
	CatDiagnosis  Category = "diagnosis"
	CatMetrics    Category = "metrics"
)

// FailureCategories lists categories counted by the failure diagnosis monitor
var FailureCategories = []Category{
	CatAuth, CatQuota, CatTransient, CatRateLimited, CatScriptInvalid, CatNoSuitableClip, CatAVDrift,
	CatEncoder, CatUploadPermanent, CatStore, CatDuplicateExhausted, CatValidation, CatDependencyMissing,
}

// IsFailure reports whether the category belongs to the failure taxonomy
func (c Category) IsFailure() bool {
	for _, f := range FailureCategories {
		if f == c {
			return true
		}
	}
	return false
}

// ErrorClass is the provider error classification used by retry and escalation logic
type ErrorClass string

// enum of provider error classes
const (
	ClassTransient   ErrorClass = "transient"
	ClassRateLimited ErrorClass = "rate-limited"
	ClassQuota       ErrorClass = "quota-exhausted"
	ClassAuth        ErrorClass = "auth"
	ClassPermanent   ErrorClass = "permanent"
)

// Retryable reports whether errors of this class may be retried locally
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassRateLimited
}

// Category maps an error class to the failure category recorded in events
func (c ErrorClass) Category() Category {
	switch c {
	case ClassTransient:
		return CatTransient
	case ClassRateLimited:
		return CatRateLimited
	case ClassQuota:
		return CatQuota
	case ClassAuth:
		return CatAuth
	}
	return ""
}

// sentinel errors
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrStoreCorrupt       = errors.New("store corrupt")
	ErrAuthExpired        = errors.New("auth expired")
	ErrQuotaExhausted     = errors.New("quota exhausted")
	ErrDuplicateExhausted = errors.New("duplicate topics exhausted")
	ErrScriptInvalid      = errors.New("script invalid")
	ErrNoSuitableClip     = errors.New("no suitable clip")
	ErrAVDriftExceeded    = errors.New("audio/video drift exceeded")
	ErrDependencyMissing  = errors.New("dependency missing")
	ErrDiskLow            = errors.New("not enough free disk space")
)

var sentinelCategories = []struct {
	err error
	cat Category
}{
	{ErrStoreUnavailable, CatStore},
	{ErrStoreCorrupt, CatStore},
	{ErrAuthExpired, CatAuth},
	{ErrQuotaExhausted, CatQuota},
	{ErrDuplicateExhausted, CatDuplicateExhausted},
	{ErrScriptInvalid, CatScriptInvalid},
	{ErrNoSuitableClip, CatNoSuitableClip},
	{ErrAVDriftExceeded, CatAVDrift},
	{ErrDependencyMissing, CatDependencyMissing},
	{ErrDiskLow, CatDependencyMissing},
}

// Failure is an error annotated with its failure category
type Failure struct {
	Cat Category
	Err error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Cat)
	}
	return string(f.Cat) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err with a category, returns nil for nil err
func Fail(cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Cat: cat, Err: err}
}

// CategoryOf returns the failure category of err, falling back to sentinel matching.
// Returns empty category for errors without a known category.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Cat
	}
	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.err) {
			return sc.cat
		}
	}
	return ""
}
