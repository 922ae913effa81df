package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNotifier struct{ name string }

func TestRegisterLookup_RoundTrips(t *testing.T) {
	r := New()
	Register(r, CategoryNotifier, "slack", fakeNotifier{name: "slack"})

	got, ok := Lookup[fakeNotifier](r, CategoryNotifier, "slack")
	assert.True(t, ok)
	assert.Equal(t, "slack", got.name)
}

func TestLookup_UnknownNameReturnsFalse(t *testing.T) {
	r := New()
	_, ok := Lookup[fakeNotifier](r, CategoryNotifier, "missing")
	assert.False(t, ok)
}

func TestLookup_WrongTypeAssertionReturnsFalse(t *testing.T) {
	r := New()
	Register(r, CategoryNotifier, "slack", fakeNotifier{name: "slack"})

	_, ok := Lookup[string](r, CategoryNotifier, "slack")
	assert.False(t, ok)
}

func TestRegister_SameCategoryNameReplacesPriorValue(t *testing.T) {
	r := New()
	Register(r, CategoryNotifier, "slack", fakeNotifier{name: "v1"})
	Register(r, CategoryNotifier, "slack", fakeNotifier{name: "v2"})

	got, ok := Lookup[fakeNotifier](r, CategoryNotifier, "slack")
	assert.True(t, ok)
	assert.Equal(t, "v2", got.name)
}

func TestSameNameDifferentCategoriesDoNotCollide(t *testing.T) {
	r := New()
	Register(r, CategorySCMProvider, "github", "scm-github")
	Register(r, CategorySCMStatusReport, "github", "status-github")

	scm, ok := Lookup[string](r, CategorySCMProvider, "github")
	assert.True(t, ok)
	assert.Equal(t, "scm-github", scm)

	status, ok := Lookup[string](r, CategorySCMStatusReport, "github")
	assert.True(t, ok)
	assert.Equal(t, "status-github", status)
}

func TestNames_ListsRegisteredNamesInCategory(t *testing.T) {
	r := New()
	Register(r, CategoryStepExecutor, "shell", "shell-exec")
	Register(r, CategoryStepExecutor, "docker", "docker-exec")

	names := r.Names(CategoryStepExecutor)
	assert.ElementsMatch(t, []string{"shell", "docker"}, names)
}

func TestNames_EmptyCategoryReturnsEmptySlice(t *testing.T) {
	r := New()
	assert.Empty(t, r.Names(CategoryArtifactHandler))
}
