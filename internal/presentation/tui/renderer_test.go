package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_KeepsText(t *testing.T) {
	out, err := NewRenderer()("**Done**, the email went out.")
	require.NoError(t, err)
	assert.Contains(t, out, "Done")
	assert.Contains(t, out, "the email went out.")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
	assert.Contains(t, buf.String(), "/exit")
}
