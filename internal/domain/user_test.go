package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidDisplayName(t *testing.T) {
	assert.NoError(t, ValidDisplayName("Alice"))
	assert.ErrorIs(t, ValidDisplayName(""), ErrDisplayNameEmpty)
	assert.ErrorIs(t, ValidDisplayName(strings.Repeat("x", MaxDisplayNameLen+1)), ErrDisplayNameTooLong)
	assert.NoError(t, ValidDisplayName(strings.Repeat("x", MaxDisplayNameLen)))
}
