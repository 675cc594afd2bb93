package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpersFallBackOnInvalidValues(t *testing.T) {
	t.Setenv("SPENDQ_TEST_INT", "nope")
	t.Setenv("SPENDQ_TEST_BOOL", "maybe")
	t.Setenv("SPENDQ_TEST_DURATION", "-5s")

	assert.Equal(t, 7, EnvInt("SPENDQ_TEST_INT", 7))
	assert.True(t, EnvBool("SPENDQ_TEST_BOOL", true))
	assert.Equal(t, time.Minute, EnvDuration("SPENDQ_TEST_DURATION", time.Minute))
	assert.Equal(t, "fallback", Env("SPENDQ_TEST_UNSET", "fallback"))
}

func TestEnvHelpersParseValidValues(t *testing.T) {
	t.Setenv("SPENDQ_TEST_INT64", "42")
	t.Setenv("SPENDQ_TEST_BOOL", "false")
	t.Setenv("SPENDQ_TEST_DURATION", "90s")

	assert.Equal(t, int64(42), EnvInt64("SPENDQ_TEST_INT64", 1))
	assert.False(t, EnvBool("SPENDQ_TEST_BOOL", true))
	assert.Equal(t, 90*time.Second, EnvDuration("SPENDQ_TEST_DURATION", time.Minute))
}
