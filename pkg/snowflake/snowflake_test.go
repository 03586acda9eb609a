package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMonotonic(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 1000; i++ {
		id := node.Generate()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNodeRange(t *testing.T) {
	_, err := NewNode(1024)
	assert.Error(t, err)

	_, err = NewNode(-1)
	assert.Error(t, err)
}

func TestTimeExtraction(t *testing.T) {
	node, err := NewNode(5)
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	id := node.Generate()
	after := time.Now().Add(time.Second)

	ts := Time(id)
	assert.True(t, ts.After(before) && ts.Before(after), "embedded time %v outside [%v, %v]", ts, before, after)
}
