package receipts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashDeterministic(t *testing.T) {
	r := validComplete()

	h1, err := ContentHash(r)
	require.NoError(t, err)
	h2, err := ContentHash(r)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentHashDistinguishesReceipts(t *testing.T) {
	a := validComplete()
	b := validComplete()
	b.OutcomeText = "different"

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestContentHashIgnoresMapIterationOrder(t *testing.T) {
	a := validAccepted()
	a.Inputs = map[string]any{"x": "1", "y": "2", "z": "3"}
	b := validAccepted()
	b.Inputs = map[string]any{"z": "3", "y": "2", "x": "1"}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}
