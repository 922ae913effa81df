package logging

import (
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

// resetDefaults restores the default logger to a known state between tests,
// since charmbracelet/log keeps its configuration in package-level state.
func resetDefaults(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetOutput(os.Stderr)
		log.SetFormatter(log.TextFormatter)
	})
}

func TestSetup_QuietWinsOverVerbose(t *testing.T) {
	resetDefaults(t)
	Setup(true, true, false)
	assert.Equal(t, log.ErrorLevel, log.GetLevel())
}

func TestSetup_VerboseRaisesToDebugWhenNotQuiet(t *testing.T) {
	resetDefaults(t)
	Setup(true, false, false)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetup_DefaultsToInfoLevel(t *testing.T) {
	resetDefaults(t)
	Setup(false, false, false)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestNew_PrefixesLoggerWithComponentName(t *testing.T) {
	l := New("stepexec")
	assert.NotNil(t, l)
}
