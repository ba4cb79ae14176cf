package bssid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPadOctet(t *testing.T) {
	t.Parallel()

	got, err := PadOctet("a")
	require.NoError(t, err)
	require.Equal(t, "0a", got)

	got, err = PadOctet("b1")
	require.NoError(t, err)
	require.Equal(t, "b1", got)

	got, err = PadOctet("F")
	require.NoError(t, err)
	require.Equal(t, "0f", got)

	_, err = PadOctet("abc")
	require.Error(t, err)
	_, err = PadOctet("zz")
	require.Error(t, err)
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "b4:5d:50:81:b8:41", want: "b4:5d:50:81:b8:41"},
		{name: "dropped zeros", in: "0:1b:63:a:5:ff", want: "00:1b:63:0a:05:ff"},
		{name: "upper case", in: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{name: "dash separated", in: "aa-bb-cc-dd-ee-0", want: "aa:bb:cc:dd:ee:00"},
		{name: "surrounding space", in: "  aa:bb:cc:dd:ee:ff\n", want: "aa:bb:cc:dd:ee:ff"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)

			again, err := Canonicalize(got)
			require.NoError(t, err)
			require.Equal(t, got, again, "canonical form must be a fixed point")
		})
	}
}

func TestCanonicalizeRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"aa::bb:cc:dd:ee:ff",
		"aa:bb:cc:dd:ee:fg",
		"aabbccddeeff",
		"aa:bb:cc:dd:ee:fff",
	} {
		_, err := Canonicalize(in)
		require.ErrorIs(t, err, ErrInvalid, "input %q", in)
		require.False(t, Valid(in))
	}
}
