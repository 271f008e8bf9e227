package paddock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueIterator(t *testing.T) {
	values := [][]byte{[]byte("foo"), []byte("bar"), []byte("baz")}

	iterator := newValueIterator(values)
	assert.Equal(t, 3, iterator.Len())

	i := 0
	for iterator.Next() {
		assert.Equal(t, values[i], iterator.Value())
		i++
	}
	assert.Equal(t, 3, i)
	assert.False(t, iterator.Next())
	assert.Equal(t, values, iterator.All())
}

func TestEmptyValueIterator(t *testing.T) {
	iterator := newValueIterator(nil)
	assert.False(t, iterator.Next())
	assert.Equal(t, 0, iterator.Len())
}

func TestKeySpaceBounds(t *testing.T) {
	for _, key := range []string{"", "a", "zzzz", "été", "\U0001F600"} {
		assert.True(t, key < MaxKey, "%q", key)
		assert.True(t, key >= MinKey, "%q", key)
	}
}
