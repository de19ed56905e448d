package sizing

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTooBig = errors.New("too big")

func TestConversions(t *testing.T) {
	t.Parallel()

	n, err := ToInt64(42, errTooBig)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = ToInt64(math.MaxInt64+1, errTooBig)
	assert.ErrorIs(t, err, errTooBig)

	u, err := ToUint64(9, errTooBig)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), u)

	_, err = ToUint64(-1, errTooBig)
	assert.ErrorIs(t, err, errTooBig)
}

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		limit   uint64
		wantErr bool
	}{
		{"under limit", "abc", 10, false},
		{"at limit", "abcde", 5, false},
		{"over limit", "abcdef", 5, true},
		{"empty", "", 0, false},
		{"unbounded", "abc", math.MaxUint64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadAllWithLimit(strings.NewReader(tt.input), tt.limit, errTooBig)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTooBig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(got))
		})
	}
}
