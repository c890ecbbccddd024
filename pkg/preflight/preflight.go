// Package preflight validates that the pipeline can actually run before
// `start`/`live` begin real work: required API keys are present, the
// cache/data directories are writable, and the live-loop lock is
// acquirable. Modeled on the teacher's preflight.Spec/Mode ladder
// (pkg/preflight/preflight.go), narrowed from its object-storage
// capability probes (plan-only/read-safe/write-probe) to this pipeline's
// two meaningful stages, there is no write-capability probe here since
// nothing writes to the press-portal sources.
package preflight

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Mode controls how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly skips all checks.
	ModePlanOnly Mode = "plan-only"
	// ModeCheck runs every configured check.
	ModeCheck Mode = "check"
)

// Capability names are stable strings surfaced in CheckResult and logs.
const (
	CapLLMAPIKey      = "llm.api_key"
	CapGeocoderAPIKey = "geocoder.api_key"
	CapStoreAPIKey    = "store.api_key"
	CapCacheDirWrite  = "cache_dir.write"
	CapDataDirWrite   = "data_dir.write"
	CapLockAcquire    = "liveloop.lock"
)

// CheckResult is one capability's outcome.
type CheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Detail     string `json:"detail,omitempty"`
}

// Record is the full preflight run's outcome.
type Record struct {
	Mode    string        `json:"mode"`
	Results []CheckResult `json:"results"`
}

// Passed reports whether every check in the record succeeded.
func (r *Record) Passed() bool {
	for _, res := range r.Results {
		if !res.Allowed {
			return false
		}
	}
	return true
}

// Spec configures which checks Run performs.
type Spec struct {
	Mode Mode

	LLMAPIKeyEnv      string
	GeocoderAPIKeyEnv string
	StoreAPIKeyEnv    string

	CacheDir string
	DataDir  string

	// LockPath, when set, is probed with a non-blocking try-lock that is
	// immediately released, confirming the live loop could acquire it,
	// without holding it past the check.
	LockPath string
}

// Run executes every check named in spec and returns the combined record.
// In ModePlanOnly it returns an empty-but-passing record immediately.
func Run(ctx context.Context, spec Spec) *Record {
	rec := &Record{Mode: string(spec.Mode)}
	if spec.Mode == ModePlanOnly {
		return rec
	}

	if spec.LLMAPIKeyEnv != "" {
		rec.Results = append(rec.Results, checkEnvPresent(CapLLMAPIKey, spec.LLMAPIKeyEnv))
	}
	if spec.GeocoderAPIKeyEnv != "" {
		rec.Results = append(rec.Results, checkEnvPresent(CapGeocoderAPIKey, spec.GeocoderAPIKeyEnv))
	}
	if spec.StoreAPIKeyEnv != "" {
		rec.Results = append(rec.Results, checkEnvPresent(CapStoreAPIKey, spec.StoreAPIKeyEnv))
	}
	if spec.CacheDir != "" {
		rec.Results = append(rec.Results, checkDirWritable(CapCacheDirWrite, spec.CacheDir))
	}
	if spec.DataDir != "" {
		rec.Results = append(rec.Results, checkDirWritable(CapDataDirWrite, spec.DataDir))
	}
	if spec.LockPath != "" {
		rec.Results = append(rec.Results, checkLockAcquirable(spec.LockPath))
	}

	return rec
}

func checkEnvPresent(capability, envVar string) CheckResult {
	if os.Getenv(envVar) == "" {
		return CheckResult{Capability: capability, Allowed: false, Detail: envVar + " is not set"}
	}
	return CheckResult{Capability: capability, Allowed: true}
}

func checkDirWritable(capability, dir string) CheckResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{Capability: capability, Allowed: false, Detail: err.Error()}
	}
	probe := filepath.Join(dir, ".preflight-"+uuid.NewString())
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return CheckResult{Capability: capability, Allowed: false, Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Capability: capability, Allowed: true}
}

func checkLockAcquirable(path string) CheckResult {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return CheckResult{Capability: CapLockAcquire, Allowed: false, Detail: err.Error()}
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return CheckResult{Capability: CapLockAcquire, Allowed: false, Detail: err.Error()}
	}
	if !ok {
		return CheckResult{Capability: CapLockAcquire, Allowed: false, Detail: "lock already held by another instance"}
	}
	_ = lock.Unlock()
	return CheckResult{Capability: CapLockAcquire, Allowed: true}
}
