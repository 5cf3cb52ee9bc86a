package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownPolicy(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := CooldownPolicy{Window: 60 * time.Second}

	assert.Equal(t, 60*time.Second, p.Remaining(base, base))
	assert.Equal(t, 30*time.Second, p.Remaining(base, base.Add(30*time.Second)))
	assert.Equal(t, time.Duration(0), p.Remaining(base, base.Add(60*time.Second)))
	assert.LessOrEqual(t, p.Remaining(base, base.Add(2*time.Minute)), time.Duration(0))

	assert.False(t, p.CanIssue(base, base.Add(59*time.Second)))
	assert.True(t, p.CanIssue(base, base.Add(61*time.Second)))
}

func TestCooldownPolicyZeroWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := CooldownPolicy{}

	assert.Equal(t, time.Duration(0), p.Remaining(base, base))
	assert.True(t, p.CanIssue(base, base))
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		assert.NoError(t, err)
		assert.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "code must be digits only, got %q", code)
		}
		seen[code] = true
	}
	// 50 draws from a million values colliding into one would mean the
	// generator is broken, not unlucky.
	assert.Greater(t, len(seen), 1)
}

func TestGenerateCodeLengths(t *testing.T) {
	for _, n := range []int{4, 6, 8} {
		code, err := GenerateCode(n)
		assert.NoError(t, err)
		assert.Len(t, code, n)
	}
}
