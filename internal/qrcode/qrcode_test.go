package qrcode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	png, err := PNG("LPA:1$smdp.example.com$ACT-123", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = PNG("", 128)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
