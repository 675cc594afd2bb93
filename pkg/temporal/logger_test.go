package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterForwardsKeyvals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var l log.Logger = NewZapAdapter(zap.New(core))

	l.Info("workflow started", "tenant", "t1")
	l.(log.WithLogger).With("queue", "spendq:refresh").Warn("slow")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "temporal", entries[0].LoggerName)
	assert.Equal(t, "t1", entries[0].ContextMap()["tenant"])
	assert.Equal(t, "spendq:refresh", entries[1].ContextMap()["queue"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
