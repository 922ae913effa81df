package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test2x2Expansion(t *testing.T) {
	combos := Expand(Definition{
		Axes: map[string][]string{
			"os":  {"linux", "mac"},
			"jdk": {"11", "17"},
		},
	})
	require.Len(t, combos, 4)

	for _, c := range combos {
		name := StageName("Build", c)
		assert.Contains(t, name, "jdk="+c["jdk"])
		assert.Contains(t, name, "os="+c["os"])

		env := Env(c)
		assert.Equal(t, c["os"], env["MATRIX_OS"])
		assert.Equal(t, c["jdk"], env["MATRIX_JDK"])
	}
}

func TestExpand_Excludes(t *testing.T) {
	combos := Expand(Definition{
		Axes: map[string][]string{
			"os":  {"linux", "mac"},
			"jdk": {"11", "17"},
		},
		Exclude: []map[string]string{{"os": "mac", "jdk": "11"}},
	})
	require.Len(t, combos, 3)
	for _, c := range combos {
		assert.False(t, c["os"] == "mac" && c["jdk"] == "11")
	}
}

func TestCheckLimit(t *testing.T) {
	assert.NoError(t, CheckLimit(4, 1, 100))
	assert.Error(t, CheckLimit(200, 1, 100))
}
