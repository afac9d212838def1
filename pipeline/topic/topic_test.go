package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsHashNotFinal(t *testing.T) {
	_, err := Parse(`sensors/#/temp`)
	require.Error(t, err)
}

func TestMatchLiteralAndPlus(t *testing.T) {
	p := MustParse(`sensors/+/temp`)
	require.True(t, Match(p, []string{"sensors", "room1", "temp"}))
	require.False(t, Match(p, []string{"sensors", "room1", "humidity"}))
	require.False(t, Match(p, []string{"sensors", "room1", "sub", "temp"}))
}

func TestMatchHashMatchesZeroOrMoreTrailingSegments(t *testing.T) {
	p := MustParse(`sensors/#`)
	require.True(t, Match(p, []string{"sensors"}))
	require.True(t, Match(p, []string{"sensors", "room1", "temp"}))
	require.False(t, Match(p, []string{"other"}))
}

func TestSplit(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, Split("a/b/c"))
}

func TestSubscriptionsDedupes(t *testing.T) {
	pats := []Pattern{MustParse(`a/+`), MustParse(`a/+`), MustParse(`b/#`)}
	subs := Subscriptions(pats)
	require.ElementsMatch(t, []string{"a/+", "b/#"}, subs)
}
