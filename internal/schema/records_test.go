package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKindBounds(t *testing.T) {
	assert.False(t, RecordUnknown.IsAvailable())
	assert.True(t, RecordSignal.IsAvailable())
	assert.True(t, RecordOrderReport.IsAvailable())
	assert.False(t, recordKindEnd.IsAvailable())
	assert.Equal(t, "unknown", RecordKind(999).String())
}

func TestExecutionDirectiveRoundTrip(t *testing.T) {
	orig := ExecutionDirective{
		ID:         NewExecDirectiveID(),
		Scope:      ScopeNew,
		PlanRef:    NewPlanRef(),
		Symbol:     "BTCUSDT",
		Side:       SideBuy,
		Quantity:   Quantity(2_5000_0000),
		LimitPrice: Price(50_000_0000_0000),
		StopPrice:  Price(49_000_0000_0000),
		Algorithm:  "slice",
		Slices:     3,
	}

	encoded, err := EncodeRecord(orig)
	require.NoError(t, err)

	decoded, err := DecodeRecord(RecordExecutionDirective, encoded)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := DecodeRecord(RecordUnknown, []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownRecordKind)
}

func TestOriginIDCarriesKindPrefix(t *testing.T) {
	origin := NewOrigin(OriginManual, "ETHUSDT", 123)
	assert.Equal(t, OriginManual, origin.Kind)
	assert.Contains(t, string(origin.ID), "manual-")
	assert.EqualValues(t, 123, origin.TsNano)
}
