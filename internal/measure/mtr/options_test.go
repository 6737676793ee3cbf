package mtr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrom(payload string) func(any) error {
	return func(v any) error { return json.Unmarshal([]byte(payload), v) }
}

func TestValidateDefaults(t *testing.T) {
	opts, err := Validate(decodeFrom(`{"target":"example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Packets)
	assert.Equal(t, 4, opts.IPVersion)
	assert.Empty(t, opts.Protocol)
}

func TestValidateRejectsOutOfRangePackets(t *testing.T) {
	_, err := Validate(decodeFrom(`{"target":"example.com","packets":20}`))
	assert.Error(t, err)
}
