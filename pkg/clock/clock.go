// Package clock provides monotonic time, time-ordered unique IDs, and
// stable SHA-256 fingerprints: the leaf utilities every other component
// builds on (component A).
package clock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock abstracts wall-clock time so tests can inject deterministic values
// instead of depending on time.Now.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current time in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a test Clock that always returns the same instant.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// idEntropy is a mutex-guarded monotonic entropy source for ULID generation
// so concurrent ID minting never collides even when Now() returns the same
// millisecond for two callers.
var idEntropy = struct {
	sync.Mutex
	source *ulid.MonotonicEntropy
}{}

// NewID returns a new time-ordered, globally unique, lexicographically
// sortable identifier (a ULID) for the given instant. Event IDs rely on the
// lexicographic ordering to make "list by id" equivalent to publish order.
func NewID(c Clock) string {
	idEntropy.Lock()
	defer idEntropy.Unlock()
	if idEntropy.source == nil {
		idEntropy.source = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(c.Now()), idEntropy.source)
	if err != nil {
		// Monotonic overflow within the same millisecond is the only
		// failure mode; fall back to a fresh entropy source.
		idEntropy.source = ulid.Monotonic(rand.Reader, 0)
		id = ulid.MustNew(ulid.Timestamp(c.Now()), idEntropy.source)
	}
	return id.String()
}

// stableEnvExclusions are env vars excluded from the stage fingerprint
// because they vary per-build without changing what the stage actually
// does.
var stableEnvExclusions = map[string]bool{
	"BUILD_ID":     true,
	"BUILD_NUMBER": true,
	"WORKSPACE":    true,
	"JOB_NAME":     true,
}

// StableEnv filters env down to the subset that participates in a stage
// fingerprint, excluding the per-build-varying keys.
func StableEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if stableEnvExclusions[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// canonicalJSON produces a stable byte representation of v: map keys sorted,
// no extraneous whitespace. Used both for stage fingerprints and for the
// audit-log hash chain, so both share one canonicalization rule.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize round-trips v through JSON so that map[string]any keys compare
// and marshal consistently regardless of original key insertion order; Go's
// encoding/json already sorts map keys on marshal; the decoded value is then
// deep-copied by sortedCopy before marshalling.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return sortedCopy(out), nil
}

// sortedCopy deep-copies decoded JSON values; maps already iterate in
// sorted key order when re-marshalled by encoding/json, so no further work
// is required beyond the round-trip itself. It exists as a hook point
// should future canonicalization rules need to normalize number formatting.
func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedCopy(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return t
	}
}

// Fingerprint computes the stable SHA-256 hex digest of
// gitCommit || canonical(stageSteps) || canonical(stableEnv), the key of
// the stage-result cache. Equal inputs always produce equal output,
// independent of build-id, build-number, workspace, or job-name.
func Fingerprint(gitCommit string, stageSteps any, stableEnv map[string]string) (string, error) {
	h := sha256.New()
	h.Write([]byte(gitCommit))

	stepsJSON, err := canonicalJSON(stageSteps)
	if err != nil {
		return "", err
	}
	h.Write(stepsJSON)

	envJSON, err := canonicalJSON(stableEnv)
	if err != nil {
		return "", err
	}
	h.Write(envJSON)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of content.
func SHA256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON exposes the canonicalization rule used for both stage
// fingerprints and the audit hash chain, so compliance verification and
// fingerprinting never drift apart.
func CanonicalJSON(v any) ([]byte, error) {
	return canonicalJSON(v)
}
