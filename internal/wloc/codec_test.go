package wloc

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeRequest_MatchesReferenceFrame(t *testing.T) {
	t.Parallel()

	const target = "b4:5d:50:ab:cd:ef"
	want := "\x00\x01" +
		"\x00\x05en_US" +
		"\x00\x13com.apple.locationd" +
		"\x00\x0a8.1.12B411" +
		"\x00\x00\x00\x01" +
		"\x00\x00\x00\x19" +
		"\x12\x13\x0a\x11" + target + "\x18\x00\x20\x00"

	got, err := NewCodec(CodecConfig{}).EncodeRequest(target)
	require.NoError(t, err)
	require.Equal(t, []byte(want), got)
}

func TestEncodeRequest_LongBSSIDUsesVarintLengths(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 200)
	frame, err := NewCodec(CodecConfig{}).EncodeRequest(long)
	require.NoError(t, err)

	headerLen := 2 + 7 + 21 + 12 + 4
	payloadLen := binary.BigEndian.Uint32(frame[headerLen:])
	payload := frame[headerLen+4:]
	require.Equal(t, int(payloadLen), len(payload))

	num, typ, n := protowire.ConsumeTag(payload)
	require.Equal(t, fieldWifi, num)
	require.Equal(t, protowire.BytesType, typ)
	wifi, m := protowire.ConsumeBytes(payload[n:])
	require.Positive(t, m)

	_, _, n = protowire.ConsumeTag(wifi)
	value, _ := protowire.ConsumeBytes(wifi[n:])
	require.Equal(t, long, string(value))
}

func TestEncodeRequest_RejectsContractViolations(t *testing.T) {
	t.Parallel()

	codec := NewCodec(CodecConfig{})

	_, err := codec.EncodeRequest("")
	require.ErrorIs(t, err, ErrBSSIDEmpty)

	_, err = codec.EncodeRequest(strings.Repeat("f", MaxBSSIDLen+1))
	require.ErrorIs(t, err, ErrBSSIDTooLong)

	_, err = codec.EncodeRequest("b4:5d:50:ab:cd:é")
	require.ErrorIs(t, err, ErrBSSIDNotASCII)

	_, err = NewCodec(CodecConfig{Locale: strings.Repeat("x", 1<<16)}).EncodeRequest("b4:5d:50:ab:cd:ef")
	require.ErrorIs(t, err, ErrFieldTooLong)
}

type wifiEntry struct {
	bssid    string
	lat, lon int64
	hacc     int64
	channel  int64
	noLoc    bool
}

func buildResponse(prefix []byte, entries ...wifiEntry) []byte {
	out := append([]byte(nil), prefix...)
	for _, e := range entries {
		var wifi []byte
		wifi = protowire.AppendTag(wifi, fieldWifiBSSID, protowire.BytesType)
		wifi = protowire.AppendString(wifi, e.bssid)
		if !e.noLoc {
			var loc []byte
			loc = protowire.AppendTag(loc, fieldLocLat, protowire.VarintType)
			loc = protowire.AppendVarint(loc, uint64(e.lat))
			loc = protowire.AppendTag(loc, fieldLocLon, protowire.VarintType)
			loc = protowire.AppendVarint(loc, uint64(e.lon))
			loc = protowire.AppendTag(loc, fieldLocHacc, protowire.VarintType)
			loc = protowire.AppendVarint(loc, uint64(e.hacc))
			wifi = protowire.AppendTag(wifi, fieldWifiLocation, protowire.BytesType)
			wifi = protowire.AppendBytes(wifi, loc)
		}
		if e.channel != 0 {
			wifi = protowire.AppendTag(wifi, fieldWifiChannel, protowire.VarintType)
			wifi = protowire.AppendVarint(wifi, uint64(e.channel))
		}
		out = protowire.AppendTag(out, fieldWifi, protowire.BytesType)
		out = protowire.AppendBytes(out, wifi)
	}
	return out
}

func defaultPrefix() []byte {
	return []byte{0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
}

func TestDecodeResponse_ParsesNeighbors(t *testing.T) {
	t.Parallel()

	body := buildResponse(defaultPrefix(),
		wifiEntry{bssid: "b4:5d:50:a:b:c", lat: 4000000000, lon: -7350000000, hacc: 30, channel: 6},
		wifiEntry{bssid: "AA-BB-CC-DD-EE-FF", lat: 3371234567, lon: 7301234567, hacc: 12},
	)
	// Unknown top-level field between records is skipped.
	body = protowire.AppendTag(body, 7, protowire.VarintType)
	body = protowire.AppendVarint(body, 99)

	got, err := NewCodec(CodecConfig{ResponseVersion: ProtocolVersion}).DecodeResponse(body)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "b4:5d:50:0a:0b:0c", got[0].BSSID)
	require.InDelta(t, 40.0, got[0].Lat, 1e-9)
	require.InDelta(t, -73.5, got[0].Lon, 1e-9)
	require.InDelta(t, 30.0, got[0].Accuracy, 1e-9)
	require.Equal(t, 6, got[0].Channel)

	require.Equal(t, "aa:bb:cc:dd:ee:ff", got[1].BSSID)
	require.InDelta(t, 33.71234567, got[1].Lat, 1e-9)
	require.InDelta(t, 73.01234567, got[1].Lon, 1e-9)
}

func TestDecodeResponse_DropsEntriesWithoutLocation(t *testing.T) {
	t.Parallel()

	body := buildResponse(defaultPrefix(),
		wifiEntry{bssid: "aa:bb:cc:dd:ee:01", noLoc: true},
		wifiEntry{bssid: "not-a-mac", lat: 1, lon: 1},
		wifiEntry{bssid: "aa:bb:cc:dd:ee:02", lat: 100000000, lon: 200000000},
	)

	got, err := NewCodec(CodecConfig{}).DecodeResponse(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "aa:bb:cc:dd:ee:02", got[0].BSSID)
}

func TestDecodeResponse_EmptyPayload(t *testing.T) {
	t.Parallel()

	got, err := NewCodec(CodecConfig{}).DecodeResponse(defaultPrefix())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeResponse_TypedFailures(t *testing.T) {
	t.Parallel()

	valid := buildResponse(defaultPrefix(), wifiEntry{bssid: "aa:bb:cc:dd:ee:ff", lat: 1, lon: 1})

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{name: "short prefix", body: []byte{0x00, 0x01, 0x00}, want: ErrTruncated},
		{name: "cut payload", body: valid[:len(valid)-3], want: ErrTruncated},
		{name: "bad wire type", body: append(defaultPrefix(), 0x17, 0x01), want: ErrMalformed},
		{name: "wrong version", body: append([]byte{0x00, 0x02}, valid[2:]...), want: ErrPrefixMismatch},
	}
	codec := NewCodec(CodecConfig{ResponseVersion: ProtocolVersion})
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := codec.DecodeResponse(tt.body)
			require.ErrorIs(t, err, tt.want)
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestDecodeResponse_VersionCheckDisabled(t *testing.T) {
	t.Parallel()

	body := buildResponse([]byte{0xde, 0xad, 0, 0, 0, 0, 0, 0, 0, 0},
		wifiEntry{bssid: "aa:bb:cc:dd:ee:ff", lat: 1, lon: 1})

	got, err := NewCodec(CodecConfig{}).DecodeResponse(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFixedPointConversion(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 40.0, FixedToDegrees(4000000000), 1e-12)
	require.InDelta(t, -180.0, FixedToDegrees(-18000000000), 1e-12)
	require.Equal(t, int64(3371234567), DegreesToFixed(33.71234567))
}
