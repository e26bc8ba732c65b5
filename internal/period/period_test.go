package period

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	c := Encode(2017, 3)
	assert.Equal(t, Code(201703), c)
	assert.Equal(t, 2017, c.Year())
	assert.Equal(t, 3, c.Quarter())
}

func TestPriorPeriods(t *testing.T) {
	testCases := []struct {
		code             Code
		priorAnnual      Code
		priorSameQuarter Code
	}{
		{201801, 201704, 201701},
		{201802, 201704, 201702},
		{201803, 201704, 201703},
		{201804, 201704, 201704},
		{200001, 199904, 199901},
	}

	for _, tc := range testCases {
		t.Run(tc.code.String(), func(t *testing.T) {
			assert.Equal(t, tc.priorAnnual, PriorAnnual(tc.code))
			assert.Equal(t, tc.priorSameQuarter, PriorSameQuarter(tc.code))
		})
	}
}

func TestValidAndAnnual(t *testing.T) {
	assert.True(t, Code(201704).Valid())
	assert.True(t, Code(201704).IsAnnual())
	assert.False(t, Code(201703).IsAnnual())
	assert.False(t, Code(201705).Valid())
	assert.False(t, Code(201700).Valid())
	assert.False(t, Code(0).Valid())
}

func TestPrevNext(t *testing.T) {
	assert.Equal(t, Code(201704), Code(201801).Prev())
	assert.Equal(t, Code(201801), Code(201802).Prev())
	assert.Equal(t, Code(201801), Code(201704).Next())
	assert.Equal(t, Code(201703), Code(201702).Next())

	// walking forward then back is the identity
	c := Code(201603)
	for range 9 {
		c = c.Next()
	}
	assert.Equal(t, Code(201804), c)
	for range 9 {
		c = c.Prev()
	}
	assert.Equal(t, Code(201603), c)
}

func TestString(t *testing.T) {
	assert.Equal(t, "2017Q4", Code(201704).String())
	assert.Equal(t, "0999Q1", Code(99901).String())
}

func TestParse(t *testing.T) {
	testCases := []struct {
		input    string
		expected Code
		wantErr  bool
	}{
		{"201704", 201704, false},
		{"2017Q4", 201704, false},
		{"2017-q2", 201702, false},
		{" 2018Q1 ", 201801, false},
		{"201705", 0, true},
		{"2017Q0", 0, true},
		{"Q4", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPeriod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
