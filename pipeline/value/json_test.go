package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONPreservesObjectKeyOrder(t *testing.T) {
	v, err := ParseJSON([]byte(`{"z":1,"a":2,"m":3}`))
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind())
	require.Equal(t, []string{"z", "a", "m"}, v.Object().Keys())
}

func TestParseJSONIntVsFloat(t *testing.T) {
	v, err := ParseJSON([]byte(`42`))
	require.NoError(t, err)
	require.Equal(t, KindInt, v.Kind())

	v, err = ParseJSON([]byte(`42.5`))
	require.NoError(t, err)
	require.Equal(t, KindFloat, v.Kind())
}

func TestParseJSONArray(t *testing.T) {
	v, err := ParseJSON([]byte(`[1,"two",true]`))
	require.NoError(t, err)
	require.Equal(t, KindArray, v.Kind())
	require.Len(t, v.Array(), 3)
	require.Equal(t, int64(1), v.Array()[0].Int())
	require.Equal(t, "two", v.Array()[1].Str())
	require.True(t, v.Array()[2].Bool())
}

func TestParseJSONNested(t *testing.T) {
	v, err := ParseJSON([]byte(`{"sensor":{"temp":21.5}}`))
	require.NoError(t, err)
	sensor, ok := v.Object().Get("sensor")
	require.True(t, ok)
	temp, ok := sensor.Object().Get("temp")
	require.True(t, ok)
	require.Equal(t, 21.5, temp.Float())
}

func TestUtf8OrLossy(t *testing.T) {
	s, clean := Utf8OrLossy([]byte("hello"))
	require.True(t, clean)
	require.Equal(t, "hello", s)

	_, clean = Utf8OrLossy([]byte{0xff, 0xfe, 0x00})
	require.False(t, clean)
}
