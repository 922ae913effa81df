package pathsafe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAbsolute_RejectsEmpty(t *testing.T) {
	_, err := ValidateAbsolute("")
	assert.Error(t, err)
}

func TestValidateAbsolute_RejectsRelative(t *testing.T) {
	_, err := ValidateAbsolute("relative/path")
	assert.Error(t, err)
}

func TestValidateAbsolute_CleansAndAccepts(t *testing.T) {
	clean, err := ValidateAbsolute("/var/chengis/../chengis/build-1")
	assert.NoError(t, err)
	assert.Equal(t, "/var/chengis/build-1", clean)
}

func TestValidateMountTarget_RejectsDotDotEvenBeforeClean(t *testing.T) {
	_, err := ValidateMountTarget("/var/chengis/../../etc/passwd")
	assert.Error(t, err)
}

func TestValidateMountTarget_AcceptsCleanAbsolutePath(t *testing.T) {
	clean, err := ValidateMountTarget("/var/chengis/build-1/cache")
	assert.NoError(t, err)
	assert.Equal(t, "/var/chengis/build-1/cache", clean)
}

func TestValidateIdentifier_RejectsEmptyAndUnsafeChars(t *testing.T) {
	assert.Error(t, ValidateIdentifier(""))
	assert.Error(t, ValidateIdentifier("not safe; rm -rf"))
	assert.NoError(t, ValidateIdentifier("build-cache.v1"))
}

func TestValidateImageName_RejectsEmptyTooLongAndUnsafe(t *testing.T) {
	assert.Error(t, ValidateImageName(""))
	assert.Error(t, ValidateImageName(strings.Repeat("a", 257)))
	assert.Error(t, ValidateImageName("; rm -rf /"))
	assert.NoError(t, ValidateImageName("golang:1.24-alpine"))
	assert.NoError(t, ValidateImageName("ghcr.io/org/image@sha256:abcdef"))
}

func TestValidateExtraArg_RequiresLeadingDash(t *testing.T) {
	assert.Error(t, ValidateExtraArg("positional-arg"))
	assert.NoError(t, ValidateExtraArg("--privileged"))
}
