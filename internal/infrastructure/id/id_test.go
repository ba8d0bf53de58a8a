package id

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortedAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		s := New()
		_, err := ulid.ParseStrict(s)
		require.NoError(t, err)
		assert.Greater(t, s, prev)
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
		prev = s
	}
}
