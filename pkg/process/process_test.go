package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	res, err := Execute(context.Background(), Request{
		Command: "echo ok",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	require.Len(t, res.StdoutLines, 1)
	assert.Equal(t, "ok", res.StdoutLines[0])
}

func TestExecute_NonZeroExit(t *testing.T) {
	res, err := Execute(context.Background(), Request{Command: "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecute_Timeout(t *testing.T) {
	res, err := Execute(context.Background(), Request{
		Command: "sleep 5",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, ExitTimeout, res.ExitCode)
}

func TestExecute_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	res, err := Execute(ctx, Request{Command: "sleep 5"})
	require.NoError(t, err)
	assert.Equal(t, ExitAborted, res.ExitCode)
}

func TestExecute_MasksSecrets(t *testing.T) {
	var lines []string
	res, err := Execute(context.Background(), Request{
		Command:    "echo token=abc123 and more abc123",
		MaskValues: []string{"abc123"},
		OnLine: func(l Line) {
			lines = append(lines, l.Text)
		},
	})
	require.NoError(t, err)
	require.Len(t, res.StdoutLines, 1)
	assert.Equal(t, "token=**** and more ****", res.StdoutLines[0])
	require.Len(t, lines, 1)
	assert.Equal(t, "token=**** and more ****", lines[0])
}

func TestExecute_EnvMergeMapWins(t *testing.T) {
	res, err := Execute(context.Background(), Request{
		Command: "echo $FOO",
		Env:     map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)
	require.Len(t, res.StdoutLines, 1)
	assert.Equal(t, "bar", res.StdoutLines[0])
}

func TestExecute_Chunking(t *testing.T) {
	var chunks []Chunk
	_, err := Execute(context.Background(), Request{
		Command:   "printf 'a\\nb\\nc\\nd\\ne\\n'",
		ChunkSize: 2,
		OnChunk: func(c Chunk) {
			chunks = append(chunks, c)
		},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[0].LineCount)
	assert.Equal(t, 2, chunks[1].LineCount)
	assert.Equal(t, 1, chunks[2].LineCount)
}

func TestMask_CaseSensitive(t *testing.T) {
	assert.Equal(t, "SECRET value ****", mask("SECRET value secret", []string{"secret"}))
}
