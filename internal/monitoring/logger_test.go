package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	assert.True(t, called)

	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called)
}

func TestSetLogWriter(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetLogWriter(&buf)
	Logf("batch %s: %d curves", "svi", 3)
	assert.Contains(t, buf.String(), "[superphot] ")
	assert.Contains(t, buf.String(), "batch svi: 3 curves")

	buf.Reset()
	SetLogWriter(nil)
	Logf("dropped")
	assert.Empty(t, buf.String())
}
