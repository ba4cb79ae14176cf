// Package wloc speaks the binary location-lookup protocol used to resolve
// BSSIDs into coordinates and neighboring access points.
//
// A request is a big-endian envelope (version, three length-prefixed strings,
// request code, payload length) around a protobuf-wire payload. A response is
// a short envelope prefix followed by a protobuf-wire message listing every
// access point the service reported for the query.
package wloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/JakeFAU/bssid-geolocator/internal/bssid"
)

const (
	// ProtocolVersion is the envelope tag opening every request and response.
	ProtocolVersion uint16 = 0x0001

	// DefaultLocale, DefaultClientID and DefaultOSVersion identify the client
	// the service expects to talk to.
	DefaultLocale    = "en_US"
	DefaultClientID  = "com.apple.locationd"
	DefaultOSVersion = "8.1.12B411"

	// DefaultResponsePrefixLen is the size of the envelope preceding the
	// response payload.
	DefaultResponsePrefixLen = 10

	// MaxBSSIDLen bounds the BSSID argument of EncodeRequest.
	MaxBSSIDLen = 255

	requestCode uint32 = 1
	coordScale         = 1e8
)

// Protobuf field numbers.
const (
	fieldWifi         protowire.Number = 2
	fieldUnknown      protowire.Number = 3
	fieldSingleResult protowire.Number = 4

	fieldWifiBSSID    protowire.Number = 1
	fieldWifiLocation protowire.Number = 2
	fieldWifiChannel  protowire.Number = 21

	fieldLocLat  protowire.Number = 1
	fieldLocLon  protowire.Number = 2
	fieldLocHacc protowire.Number = 3
)

// Neighbor is one access point decoded from a response.
type Neighbor struct {
	BSSID    string
	Lat      float64
	Lon      float64
	Accuracy float64
	Channel  int
}

// CodecConfig customizes the envelope. Zero values fall back to defaults.
type CodecConfig struct {
	Locale    string
	ClientID  string
	OSVersion string
	// ResponsePrefixLen is the number of envelope bytes before the payload.
	ResponsePrefixLen int
	// ResponseVersion is the expected leading uint16 of a response; 0 skips
	// the check.
	ResponseVersion uint16
}

// Codec encodes requests and decodes responses. It is stateless and safe for
// concurrent use.
type Codec struct {
	cfg CodecConfig
}

// NewCodec builds a Codec.
func NewCodec(cfg CodecConfig) *Codec {
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.OSVersion == "" {
		cfg.OSVersion = DefaultOSVersion
	}
	if cfg.ResponsePrefixLen <= 0 {
		cfg.ResponsePrefixLen = DefaultResponsePrefixLen
	}
	return &Codec{cfg: cfg}
}

// EncodeRequest builds the request frame asking for bssid and its neighbors.
func (c *Codec) EncodeRequest(bssid string) ([]byte, error) {
	if err := validateBSSID(bssid); err != nil {
		return nil, err
	}

	// wifi { bssid } followed by two zero varints: no additional filters.
	var wifi []byte
	wifi = protowire.AppendTag(wifi, fieldWifiBSSID, protowire.BytesType)
	wifi = protowire.AppendString(wifi, bssid)

	var payload []byte
	payload = protowire.AppendTag(payload, fieldWifi, protowire.BytesType)
	payload = protowire.AppendBytes(payload, wifi)
	payload = protowire.AppendTag(payload, fieldUnknown, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 0)
	payload = protowire.AppendTag(payload, fieldSingleResult, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 0)

	frame := make([]byte, 0, 2+3*2+len(c.cfg.Locale)+len(c.cfg.ClientID)+len(c.cfg.OSVersion)+8+len(payload))
	frame = binary.BigEndian.AppendUint16(frame, ProtocolVersion)
	for _, field := range []string{c.cfg.Locale, c.cfg.ClientID, c.cfg.OSVersion} {
		var err error
		frame, err = appendString16(frame, field)
		if err != nil {
			return nil, err
		}
	}
	frame = binary.BigEndian.AppendUint32(frame, requestCode)
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload: %w", ErrFieldTooLong)
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeResponse parses a response body into neighbor observations. Entries
// without a location are dropped.
func (c *Codec) DecodeResponse(body []byte) ([]Neighbor, error) {
	payload, err := c.stripPrefix(body)
	if err != nil {
		return nil, err
	}
	offset := c.cfg.ResponsePrefixLen
	var out []Neighbor
	for b := payload; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError(offset, n, "tag")
		}
		b, offset = b[n:], offset+n

		if num != fieldWifi || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, wireError(offset, m, fmt.Sprintf("field %d", num))
			}
			b, offset = b[m:], offset+m
			continue
		}

		msg, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, wireError(offset, m, "wifi record")
		}
		nb, ok, err := decodeWifi(msg)
		if err != nil {
			return nil, &DecodeError{Offset: offset, Cause: ErrMalformed, Detail: err.Error()}
		}
		if ok {
			out = append(out, nb)
		}
		b, offset = b[m:], offset+m
	}
	return out, nil
}

func (c *Codec) stripPrefix(body []byte) ([]byte, error) {
	if len(body) < c.cfg.ResponsePrefixLen {
		return nil, &DecodeError{
			Offset: len(body),
			Cause:  ErrTruncated,
			Detail: fmt.Sprintf("need %d prefix bytes, have %d", c.cfg.ResponsePrefixLen, len(body)),
		}
	}
	if c.cfg.ResponseVersion != 0 {
		if len(body) < 2 {
			return nil, &DecodeError{Offset: 0, Cause: ErrTruncated, Detail: "missing version tag"}
		}
		if got := binary.BigEndian.Uint16(body); got != c.cfg.ResponseVersion {
			return nil, &DecodeError{
				Offset: 0,
				Cause:  ErrPrefixMismatch,
				Detail: fmt.Sprintf("version tag 0x%04x, want 0x%04x", got, c.cfg.ResponseVersion),
			}
		}
	}
	return body[c.cfg.ResponsePrefixLen:], nil
}

func decodeWifi(msg []byte) (Neighbor, bool, error) {
	var (
		nb          Neighbor
		hasLocation bool
	)
	for b := msg; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Neighbor{}, false, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldWifiBSSID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Neighbor{}, false, protowire.ParseError(m)
			}
			nb.BSSID = string(v)
			b = b[m:]
		case num == fieldWifiLocation && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Neighbor{}, false, protowire.ParseError(m)
			}
			if err := decodeLocation(v, &nb); err != nil {
				return Neighbor{}, false, err
			}
			hasLocation = true
			b = b[m:]
		case num == fieldWifiChannel && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Neighbor{}, false, protowire.ParseError(m)
			}
			nb.Channel = int(int64(v))
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Neighbor{}, false, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !hasLocation {
		return Neighbor{}, false, nil
	}
	canonical, err := bssid.Canonicalize(nb.BSSID)
	if err != nil {
		return Neighbor{}, false, nil
	}
	nb.BSSID = canonical
	return nb, true, nil
}

func decodeLocation(msg []byte, nb *Neighbor) error {
	for b := msg; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
		switch num {
		case fieldLocLat:
			nb.Lat = FixedToDegrees(int64(v))
		case fieldLocLon:
			nb.Lon = FixedToDegrees(int64(v))
		case fieldLocHacc:
			nb.Accuracy = float64(int64(v))
		}
	}
	return nil
}

// FixedToDegrees converts the service's 1e-8 fixed-point coordinate.
func FixedToDegrees(v int64) float64 {
	return float64(v) / coordScale
}

// DegreesToFixed is the inverse of FixedToDegrees.
func DegreesToFixed(deg float64) int64 {
	return int64(math.Round(deg * coordScale))
}

func validateBSSID(s string) error {
	if s == "" {
		return ErrBSSIDEmpty
	}
	if len(s) > MaxBSSIDLen {
		return fmt.Errorf("%w: %d bytes", ErrBSSIDTooLong, len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return fmt.Errorf("%w: byte %d is 0x%02x", ErrBSSIDNotASCII, i, s[i])
		}
	}
	return nil
}

func appendString16(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%q: %w", s[:16], ErrFieldTooLong)
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

func wireError(offset, code int, what string) error {
	cause := ErrMalformed
	perr := protowire.ParseError(code)
	if errors.Is(perr, io.ErrUnexpectedEOF) {
		cause = ErrTruncated
	}
	return &DecodeError{Offset: offset, Cause: cause, Detail: fmt.Sprintf("%s: %v", what, perr)}
}
