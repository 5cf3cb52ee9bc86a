package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer("+237", `^\+[1-9][0-9]{7,14}$`)
	require.NoError(t, err)
	return n
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already canonical", input: "+237650000000", want: "+237650000000"},
		{name: "spaces and dashes", input: "+237 650-000-000", want: "+237650000000"},
		{name: "parentheses", input: "+237 (650) 000 000", want: "+237650000000"},
		{name: "national number gets default code", input: "650000000", want: "+237650000000"},
		{name: "trunk prefix without plus", input: "237650000000", want: "+237650000000"},
		{name: "foreign number kept as-is", input: "+14155552671", want: "+14155552671"},
		{name: "empty", input: "", wantErr: true},
		{name: "letters only", input: "call-me", wantErr: true},
		{name: "too short", input: "+12", wantErr: true},
		{name: "leading zero country code", input: "+0123456789", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)

	first, err := n.Normalize("650 000 000")
	require.NoError(t, err)
	second, err := n.Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewNormalizerRejectsBadConfig(t *testing.T) {
	_, err := NewNormalizer("237", `^\+[0-9]+$`)
	assert.Error(t, err, "country code without + must be rejected")

	_, err = NewNormalizer("+237", `[`)
	assert.Error(t, err, "invalid pattern must be rejected")
}

func TestHashIsDeterministic(t *testing.T) {
	a := Hash("+237650000000")
	b := Hash("+237650000000")
	c := Hash("+237650000001")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "+237", "hash must not leak the number")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+237****", Mask("+237650000000"))
	assert.Equal(t, "****", Mask("+23"))
	assert.Equal(t, "****", Mask(""))
}
