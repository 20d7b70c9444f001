package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringifyValue(t *testing.T) {
	assert.Equal(t, "", stringifyValue(nil))
	assert.Equal(t, "hello", stringifyValue("hello"))
	assert.Equal(t, "42", stringifyValue(42))
	assert.Equal(t, "3.5", stringifyValue(3.5))
	assert.Equal(t, "true", stringifyValue(true))
	assert.Equal(t, "a, b, c", stringifyValue([]any{"a", "b", "c"}))
	assert.Equal(t, `{"k":"v"}`, stringifyValue(map[string]any{"k": "v"}))
	assert.Equal(t, "x, 1", stringifyValue([]any{"x", 1}))
}

func TestSortedKeys(t *testing.T) {
	keys := sortedKeys(map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
}
