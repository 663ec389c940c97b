package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	assert.True(t, Init("debug"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.True(t, Init(""))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	assert.False(t, Init("loud"))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
