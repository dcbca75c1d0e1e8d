package wire

import (
	"testing"

	"meshkv/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	cases := []store.Entry{
		{Key: []byte("k"), Value: []byte("v"), HasValue: true, Timestamp: 42, ModifierID: 7},
		{Key: []byte(""), Value: []byte(""), HasValue: true, Timestamp: 0, ModifierID: 1},
		{Key: []byte("tombstoned"), HasValue: false, Timestamp: 99, ModifierID: 3},
	}

	for _, e := range cases {
		buf, n, err := Serialize(nil, e)
		require.NoError(t, err)
		require.Greater(t, n, 0)

		got, err := Deserialize(buf)
		require.NoError(t, err)
		assert.Equal(t, e.Key, got.Key)
		assert.Equal(t, e.HasValue, got.HasValue)
		if e.HasValue {
			assert.Equal(t, e.Value, got.Value)
		}
		assert.Equal(t, e.Timestamp, got.Timestamp)
		assert.Equal(t, e.ModifierID, got.ModifierID)
	}
}

func TestDeserializeMalformedFrame(t *testing.T) {
	_, err := Deserialize([]byte{0, 5, 'a'}) // keyLen=5 but only 1 byte follows
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDeserializeTrailingGarbage(t *testing.T) {
	buf, _, err := Serialize(nil, store.Entry{Key: []byte("k"), HasValue: false, Timestamp: 1, ModifierID: 1})
	require.NoError(t, err)

	_, err = Deserialize(append(buf, 0xFF))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
