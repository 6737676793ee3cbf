package dns

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrom(payload string) func(any) error {
	return func(v any) error { return json.Unmarshal([]byte(payload), v) }
}

func TestValidateAppliesDefaults(t *testing.T) {
	opts, err := Validate(decodeFrom(`{"target":"example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "A", opts.QueryType)
	assert.Equal(t, "udp", opts.Protocol)
	assert.Equal(t, 53, opts.Port)
	assert.Equal(t, 4, opts.IPVersion)
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	_, err := Validate(decodeFrom(`{"target":"example.com","queryType":"BOGUS"}`))
	assert.Error(t, err)
}

func TestValidateRejectsBadProtocol(t *testing.T) {
	_, err := Validate(decodeFrom(`{"target":"example.com","protocol":"sctp"}`))
	assert.Error(t, err)
}

func TestValidateHonoursResolverAndTrace(t *testing.T) {
	opts, err := Validate(decodeFrom(`{"target":"example.com","resolver":"1.1.1.1","trace":true}`))
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", opts.Resolver)
	assert.True(t, opts.Trace)
}
