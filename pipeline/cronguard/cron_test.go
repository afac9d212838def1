package cronguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsWrongFieldCount(t *testing.T) {
	_, err := Parse(`* * *`)
	require.Error(t, err)
}

func TestParseAccepts5And6Fields(t *testing.T) {
	_, err := Parse(`*/5 * * * *`)
	require.NoError(t, err)
	_, err = Parse(`0 */5 * * * *`)
	require.NoError(t, err)
}

func TestNextEveryFiveMinutes(t *testing.T) {
	s, err := Parse(`*/5 * * * *`)
	require.NoError(t, err)
	after := time.Date(2026, 8, 1, 10, 2, 30, 0, time.UTC)
	next, ok := Next(s, after)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestNextCarriesDayWhenHourExhausted(t *testing.T) {
	s, err := Parse(`0 0 23 * * *`)
	require.NoError(t, err)
	after := time.Date(2026, 8, 1, 23, 0, 1, 0, time.UTC)
	next, ok := Next(s, after)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 8, 2, 23, 0, 0, 0, time.UTC), next)
}

func TestNextExactMatchIsReturnedAsIs(t *testing.T) {
	s, err := Parse(`30 10 * * *`)
	require.NoError(t, err)
	at := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	next, ok := Next(s, at)
	require.True(t, ok)
	require.True(t, next.Equal(at))
}
