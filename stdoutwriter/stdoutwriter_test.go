package stdoutwriter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	n, err := l.Write([]byte(`{"msg":"hello"}`))
	assert.Nil(t, err)
	assert.Equal(t, 15, n)
	assert.Equal(t, "{\"msg\":\"hello\"}\n", buf.String())
}
