package cacode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChipsAreBinary(t *testing.T) {
	for _, sat := range Satellites {
		seq := Sequence(sat.T1, sat.T2)
		require.Len(t, seq, 1023)
		for i, c := range seq {
			require.True(t, c == 0 || c == 1, "prn %d chip %d out of range: %d", sat.PRN, i, c)
		}
	}
}

func TestSequenceRepeatsEveryPeriod(t *testing.T) {
	sat, ok := ForPRN(1)
	require.True(t, ok)

	g := NewGenerator(sat.T1, sat.T2)
	first := make([]byte, 1023)
	for i := range first {
		first[i] = g.Chip()
		g.Clock()
	}
	second := make([]byte, 1023)
	for i := range second {
		second[i] = g.Chip()
		g.Clock()
	}
	assert.Equal(t, first, second, "C/A code must repeat every 1023 chips")
}

func TestDistinctSatellitesProduceDistinctCodes(t *testing.T) {
	sat1, _ := ForPRN(1)
	sat2, _ := ForPRN(2)
	seq1 := Sequence(sat1.T1, sat1.T2)
	seq2 := Sequence(sat2.T1, sat2.T2)
	assert.NotEqual(t, seq1, seq2)
}

func TestResetReturnsToAllOnesState(t *testing.T) {
	sat, _ := ForPRN(7)
	g := NewGenerator(sat.T1, sat.T2)
	first := g.GetG1()

	for i := 0; i < 500; i++ {
		g.Clock()
	}
	g.Reset()
	assert.Equal(t, first, g.GetG1())
}

func TestSearchCodeRoundTrip(t *testing.T) {
	for _, prn := range []int{1, 15, 22, 32} {
		sat, ok := ForPRN(prn)
		require.True(t, ok)

		for _, offset := range []int{0, 1, 100, 500, 1022} {
			g := NewGenerator(sat.T1, sat.T2)
			for i := 0; i < offset; i++ {
				g.Clock()
			}
			target := g.GetG1()

			got := SearchCode(sat.T1, sat.T2, target)
			assert.Equal(t, offset, got, "prn %d offset %d", prn, offset)
		}
	}
}

func TestForPRNBounds(t *testing.T) {
	_, ok := ForPRN(0)
	assert.False(t, ok)
	_, ok = ForPRN(33)
	assert.False(t, ok)
	sat, ok := ForPRN(32)
	require.True(t, ok)
	assert.Equal(t, 22, sat.NAVSTAR)
	assert.Equal(t, 4, sat.T1)
	assert.Equal(t, 9, sat.T2)
}
