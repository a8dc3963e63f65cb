package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":      "42",
		"INT_BAD":     "forty",
		"DUR_OK":      "45m",
		"DUR_BAD":     "soon",
		"BOOL_OK":     "true",
		"PLAIN_VALUE": "hello",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, 7, GetEnvInt("INT_MISSING", 7))
	assert.Equal(t, 45*time.Minute, GetEnvDuration("DUR_OK", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("DUR_BAD", time.Minute))
	assert.True(t, GetEnvBool("BOOL_OK", false))
	assert.False(t, GetEnvBool("BOOL_MISSING", false))
	assert.Equal(t, "hello", GetEnv("PLAIN_VALUE", ""))
}

func TestGetEnvFallsBackToProcessEnv(t *testing.T) {
	Env = map[string]string{}
	t.Cleanup(func() { Env = nil })
	t.Setenv("ACADEMY_ONLY_IN_OS", "from-os")

	assert.Equal(t, "from-os", GetEnv("ACADEMY_ONLY_IN_OS", "def"))
}
