package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBestEffort(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	ok := BestEffort{Op: "logout"}
	assert.True(t, ok.OK())
	ok.Log(logger)

	failed := BestEffort{Op: "warmup /dealers", Err: errors.New("timeout")}
	assert.False(t, failed.OK())
	failed.Log(logger)
	failed.Log(nil)

	warns := logs.FilterLevelExact(zap.WarnLevel).All()
	if assert.Len(t, warns, 1) {
		assert.Equal(t, "warmup /dealers", warns[0].ContextMap()["op"])
	}
	assert.Equal(t, 1, logs.FilterLevelExact(zap.DebugLevel).Len())
}
