// Package matrix is the matrix expander (component I): it turns a
// {key: [values]} matrix definition into a cartesian product of stage
// copies, honoring exclusions and producing the MATRIX_* environment each
// expanded step receives.
package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sremani/chengis/internal/errs"
)

// Definition is the matrix block of a pipeline definition: a set of axes
// and an optional list of combinations to exclude.
type Definition struct {
	Axes    map[string][]string
	Exclude []map[string]string
}

// Combination is one resolved point in the cartesian product: key -> value.
type Combination map[string]string

// Expand computes the cartesian product of d's axes, dropping any
// combination that matches an exclude entry exactly on the keys it
// specifies. Combinations are returned in deterministic order: axes sorted
// by key name, values in declaration order within each axis.
func Expand(d Definition) []Combination {
	if len(d.Axes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(d.Axes))
	for k := range d.Axes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []Combination{{}}
	for _, k := range keys {
		var next []Combination
		for _, c := range combos {
			for _, v := range d.Axes[k] {
				copied := make(Combination, len(c)+1)
				for ck, cv := range c {
					copied[ck] = cv
				}
				copied[k] = v
				next = append(next, copied)
			}
		}
		combos = next
	}

	var out []Combination
	for _, c := range combos {
		if !excluded(c, d.Exclude) {
			out = append(out, c)
		}
	}
	return out
}

func excluded(c Combination, excludes []map[string]string) bool {
	for _, ex := range excludes {
		match := true
		for k, v := range ex {
			if c[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// StageName builds the expanded stage name for baseName under combination
// c, containing "key=value" for every axis so a reader (and the test
// suite) can recover the combination from the name alone.
func StageName(baseName string, c Combination) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, c[k]))
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, ", "))
}

// Env builds the MATRIX_<KEY>=<value> environment injected into every step
// of an expanded stage.
func Env(c Combination) map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out["MATRIX_"+strings.ToUpper(k)] = v
	}
	return out
}

// CheckLimit validates that expanding stageCount stages by len(combinations)
// does not exceed max; a violation is a ValidationError that must fail the
// build before any stage runs.
func CheckLimit(combinations int, stageCount int, max int) error {
	if max <= 0 {
		max = 100
	}
	if combinations*stageCount > max {
		return errs.Validationf("matrix: %d combinations x %d stages exceeds max %d", combinations, stageCount, max)
	}
	return nil
}
