package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawaiiTaiga/project-SABA/errors"
)

var testTime = time.Date(2023, 1, 15, 12, 30, 45, 0, time.UTC)

func TestFormat(t *testing.T) {
	assert.Equal(t, "2023-01-15T12:30:45Z", Format(testTime))
	assert.Equal(t, "2023-01-15T12:30:45Z", Format(testTime.Add(900*time.Millisecond)), "second resolution")
	assert.Equal(t, "2023-01-15T12:30:45Z", Format(testTime.In(time.FixedZone("KST", 9*3600))))
	assert.Equal(t, "", Format(time.Time{}))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"wire layout", "2023-01-15T12:30:45Z", testTime},
		{"fractional", "2023-01-15T12:30:45.250Z", testTime.Add(250 * time.Millisecond)},
		{"offset", "2023-01-15T21:30:45+09:00", testTime},
		{"unix seconds", "1673785845", testTime},
		{"unix millis", "1673785845000", testTime},
		{"empty", "", time.Time{}},
		{"spaces", "  2023-01-15T12:30:45Z ", testTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := Parse("yesterday")
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestRoundTrip(t *testing.T) {
	got, err := Parse(Format(testTime))
	require.NoError(t, err)
	assert.True(t, testTime.Equal(got))
}

func TestFromNumber(t *testing.T) {
	assert.True(t, FromNumber(0).IsZero())
	assert.Equal(t, testTime, FromNumber(1673785845))
	assert.Equal(t, testTime, FromNumber(1673785845000))
}

func TestSkew(t *testing.T) {
	assert.Equal(t, 5*time.Second, Skew(testTime, testTime.Add(5*time.Second)))
	assert.Equal(t, time.Duration(0), Skew(time.Time{}, testTime))
	assert.Equal(t, time.Duration(0), Skew(testTime, time.Time{}))
}
