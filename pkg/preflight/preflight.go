// Package preflight gates generation of an item: the channel's credential, provider quotas, external
// binaries and free disk space are checked in that order, the first failure stops the chain.
// Topic collisions are checked by the selector through the same validator.
package preflight

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/sys/unix"

	"github.com/umputun/shortcast/pkg/credential"
	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/media"
	"github.com/umputun/shortcast/pkg/topic"
)

// DefaultMinFree is the free space required on the working volume
const DefaultMinFree = 1 << 30

// check names, reported in Result.Check
const (
	CheckAuth       = "auth"
	CheckQuota      = "quota"
	CheckBinaries   = "binaries"
	CheckDisk       = "disk"
	CheckDuplicates = "duplicates"
)

// SessionAcquirer provides a credential session of a channel
type SessionAcquirer interface {
	Acquire(ctx context.Context, channelID string) (*credential.Session, error)
}

// QuotaChecker fails for exhausted providers
type QuotaChecker interface {
	Check(ctx context.Context, providers ...string) error
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the validator
type Params struct {
	WorkDir   string   // working volume checked for free space
	MinFree   uint64   // bytes, DefaultMinFree if zero
	BinPaths  []string // search path set for binaries, PATH if empty
	Binaries  []string // required binaries, encoder and probe if empty
	Providers []string // quotas checked, llm, stock and upload if empty
}

// Result of a pre-flight run. Check and Category are set for a failure only.
type Result struct {
	Passed   bool
	Check    string
	Category domain.Category
	Err      error
	Session  *credential.Session
	Binaries map[string]string
	FreeDisk uint64
}

// Error returns the failure of the run or nil if passed
func (r *Result) Error() error {
	if r.Passed {
		return nil
	}
	return r.Err
}

// Validator runs pre-flight checks for a channel
type Validator struct {
	creds  SessionAcquirer
	quotas QuotaChecker
	dedup  *topic.Dedup
	rec    Recorder
	params Params

	freeSpace func(path string) (uint64, error)
}

// NewValidator makes a validator
func NewValidator(creds SessionAcquirer, quotas QuotaChecker, dedup *topic.Dedup, rec Recorder, params Params) *Validator {
	if params.MinFree == 0 {
		params.MinFree = DefaultMinFree
	}
	if len(params.Binaries) == 0 {
		params.Binaries = []string{media.FFmpeg, media.FFprobe}
	}
	if len(params.Providers) == 0 {
		params.Providers = []string{domain.ProviderLLM, domain.ProviderStock, domain.ProviderUpload}
	}
	if params.WorkDir == "" {
		params.WorkDir = "."
	}
	return &Validator{creds: creds, quotas: quotas, dedup: dedup, rec: rec, params: params, freeSpace: FreeSpace}
}

// Run performs auth, quota, binaries and disk checks. A failure is recorded as a warning event
// and returned in the result with its category.
func (v *Validator) Run(ctx context.Context, ch *domain.Channel) *Result {
	res := &Result{Binaries: map[string]string{}}

	fail := func(check string, err error, fallback domain.Category) *Result {
		res.Passed, res.Check, res.Err = false, check, err
		res.Category = domain.CategoryOf(err)
		if res.Category == "" {
			res.Category = fallback
		}
		log.Printf("[WARN] pre-flight %s failed for %s: %v", check, ch.ID, err)
		v.rec.Record(ctx, ch.ID, domain.SeverityWarn, res.Category, fmt.Sprintf("pre-flight %s check failed: %v", check, err),
			map[string]any{"check": check})
		return res
	}

	sess, err := v.creds.Acquire(ctx, ch.ID)
	if err != nil {
		return fail(CheckAuth, err, domain.CatAuth)
	}
	res.Session = sess

	if err := v.quotas.Check(ctx, v.params.Providers...); err != nil {
		return fail(CheckQuota, err, domain.CatQuota)
	}

	for _, name := range v.params.Binaries {
		p, err := media.FindBinary(name, v.params.BinPaths)
		if err != nil {
			return fail(CheckBinaries, err, domain.CatDependencyMissing)
		}
		res.Binaries[name] = p
	}

	free, err := v.freeSpace(v.params.WorkDir)
	if err != nil {
		return fail(CheckDisk, fmt.Errorf("stat %s: %w", v.params.WorkDir, err), domain.CatDependencyMissing)
	}
	res.FreeDisk = free
	if free < v.params.MinFree {
		return fail(CheckDisk, fmt.Errorf("%d bytes free on %s, %d required: %w",
			free, v.params.WorkDir, v.params.MinFree, domain.ErrDiskLow), domain.CatDependencyMissing)
	}

	res.Passed = true
	return res
}

// CheckDuplicate returns the dedup key of a proposed topic or an error wrapping topic.ErrDuplicate
func (v *Validator) CheckDuplicate(ctx context.Context, ch *domain.Channel, proposal string) (string, error) {
	return v.dedup.CheckDuplicate(ctx, ch, proposal)
}

// RecentTopics returns keys of the channel's items within its dedup window
func (v *Validator) RecentTopics(ctx context.Context, ch *domain.Channel) ([]string, error) {
	return v.dedup.RecentTopics(ctx, ch)
}

// FreeSpace returns bytes available to unprivileged users on the volume of path
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil //nolint:gosec // block size is positive
}
