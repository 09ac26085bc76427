package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalID(t *testing.T) {
	node, err := NewNodeWithID(3)
	require.NoError(t, err)

	at := time.UnixMilli(1767225600123)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := node.ExternalID(at)
		assert.Regexp(t, `^1767225600123x\d{18}$`, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewNodeWithID_OutOfRange(t *testing.T) {
	_, err := NewNodeWithID(5000)
	assert.Error(t, err)
}
