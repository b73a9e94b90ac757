package identity

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tailPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestDeriveID_Format(t *testing.T) {
	id, err := DeriveID(1, 10)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0001-0000-00000000000a", id)
	assert.Regexp(t, tailPattern, id[len(id)-12:])
}

func TestDeriveID_Deterministic(t *testing.T) {
	a, err := DeriveID(7, 42)
	require.NoError(t, err)
	b, err := DeriveID(7, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveID_NoCollisions(t *testing.T) {
	seen := make(map[string][2]int)
	for ri := 0; ri <= MaxRuleIndex; ri++ {
		for _, seq := range []int{1, 2, 255, 256, 257, 65536, 1 << 40, MaxSequenceNumber} {
			id, err := DeriveID(ri, seq)
			require.NoError(t, err)
			prev, dup := seen[id]
			require.False(t, dup, "collision between %v and %v", prev, [2]int{ri, seq})
			seen[id] = [2]int{ri, seq}
		}
	}
}

func TestDeriveID_OutOfRange(t *testing.T) {
	_, err := DeriveID(256, 1)
	assert.True(t, errors.Is(err, ErrRuleIndexRange))

	_, err = DeriveID(-1, 1)
	assert.True(t, errors.Is(err, ErrRuleIndexRange))

	_, err = DeriveID(1, MaxSequenceNumber+1)
	assert.True(t, errors.Is(err, ErrSequenceRange))

	_, err = DeriveID(1, -5)
	assert.True(t, errors.Is(err, ErrSequenceRange))
}

func TestParse_RoundTrip(t *testing.T) {
	id, err := DeriveID(200, 123456789)
	require.NoError(t, err)

	ri, seq, err := Parse(id)
	require.NoError(t, err)
	assert.Equal(t, 200, ri)
	assert.Equal(t, 123456789, seq)

	_, _, err = Parse("not-an-id")
	assert.Error(t, err)

	_, _, err = Parse("ffffffff-ffff-ffff-0000-000000000001")
	assert.True(t, errors.Is(err, ErrRuleIndexRange))
}
