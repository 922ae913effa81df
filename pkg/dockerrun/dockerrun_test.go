package dockerrun

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sremani/chengis/pkg/process"
)

func TestEnvSlice(t *testing.T) {
	out := envSlice(map[string]string{"FOO": "bar"})
	assert.Equal(t, []string{"FOO=bar"}, out)
}

func TestConsumeLines_MasksAndChunks(t *testing.T) {
	var lines []process.Line
	var chunks []process.Chunk

	r := strings.NewReader("hello secret-token\nworld\n")
	consumeLines(r, process.Stdout, Request{
		MaskValues: []string{"secret-token"},
		ChunkSize:  1,
		OnLine:     func(l process.Line) { lines = append(lines, l) },
		OnChunk:    func(c process.Chunk) { chunks = append(chunks, c) },
	})

	if assert.Len(t, lines, 2) {
		assert.Equal(t, "hello ****", lines[0].Text)
		assert.Equal(t, "world", lines[1].Text)
	}
	assert.Len(t, chunks, 2)
}
