package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalsSince(t *testing.T) {
	base := Signals()

	Signal(SignalChunkOverflow, "条目过长: %d", 1)
	Signal(SignalChunkOverflow, "条目过长: %d", 2)
	Signal(SignalDeliveryFailure, "发送失败")

	delta := SignalsSince(base)
	assert.Equal(t, 2, delta[SignalChunkOverflow])
	assert.Equal(t, 1, delta[SignalDeliveryFailure])
	assert.Zero(t, delta[SignalFingerprintAmbiguous])
}

func TestFormatSignals(t *testing.T) {
	assert.Equal(t, "无", FormatSignals(nil))
	got := FormatSignals(map[string]int{"b": 2, "a": 1})
	assert.Equal(t, "a=1, b=2", got)
}
