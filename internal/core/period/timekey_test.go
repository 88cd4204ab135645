package period

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPad16(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want string
	}{
		{name: "zero", ms: 0, want: "0000000000000000"},
		{name: "typical", ms: 1709251200000, want: "0001709251200000"},
		{name: "negative clamps", ms: -5, want: "0000000000000000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Pad16(tc.ms))
		})
	}
}

func TestEncodeTimeKey_Monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		a := r.Int63n(1 << 45)
		b := a + 1 + r.Int63n(1<<30)

		ka, kb := EncodeTimeKey(a), EncodeTimeKey(b)
		require.Less(t, ka, kb, "encode(%d) must sort before encode(%d)", a, b)
		require.Len(t, ka, len(TimeKeyPrefix)+16)
		require.Len(t, kb, len(TimeKeyPrefix)+16)
	}
}

func TestEncodeTimeKey_Prefix(t *testing.T) {
	assert.Equal(t, "t/0000000000001000", EncodeTimeKey(1000))
}
