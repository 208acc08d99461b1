package measurement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Manufacturer data layout (after the 16-bit company id, which the radio
// library handles): a sequence of entries [len][key lo][key hi][value...]
// where len counts the key and the value.
const (
	CompanyID = 0x0822

	// MaxPayloadLen is what fits in a legacy advertisement next to the flags
	// and the manufacturer data header.
	MaxPayloadLen = 24

	keySize = 2
)

var (
	ErrTruncated       = errors.New("measurement: truncated payload")
	ErrMissingSequence = errors.New("measurement: no sequence number")
	ErrFieldSize       = errors.New("measurement: field size mismatch")
	ErrTooLarge        = errors.New("measurement: payload too large")
)

// Encode builds the manufacturer data payload for m.
func Encode(m Measurement) ([]byte, error) {
	out := make([]byte, 0, MaxPayloadLen)
	out = appendEntry(out, SequenceNumberID, []byte{m.Sequence})
	for _, r := range m.Readings {
		if len(r.Values) != r.Field.Len() {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrFieldSize, r.Field.Name, len(r.Values), r.Field.Len())
		}
		value := make([]byte, 0, r.Field.WireSize())
		for _, v := range r.Values {
			value = appendValue(value, r.Field.Encoding, v)
		}
		out = appendEntry(out, r.Field.ID, value)
	}
	if len(out) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(out), MaxPayloadLen)
	}
	return out, nil
}

// Decode parses a manufacturer data payload. Unknown keys are skipped, as
// are readings with a NaN or infinite component; their names end up in
// Measurement.Invalid. Address, RSSI and SeenAt are left for the caller.
func Decode(data []byte) (Measurement, error) {
	var m Measurement
	haveSeq := false
	for i := 0; i < len(data); {
		n := int(data[i])
		if n < keySize || i+1+n > len(data) {
			return Measurement{}, fmt.Errorf("%w: entry at %d claims %d bytes", ErrTruncated, i, n)
		}
		key := binary.LittleEndian.Uint16(data[i+1 : i+3])
		value := data[i+3 : i+1+n]
		i += 1 + n

		f, ok := FieldByID(key)
		if !ok {
			continue
		}
		if len(value) != f.WireSize() {
			return Measurement{}, fmt.Errorf("%w: %s is %d bytes, want %d", ErrFieldSize, f.Name, len(value), f.WireSize())
		}
		if f.ID == SequenceNumberID {
			m.Sequence = value[0]
			haveSeq = true
			continue
		}
		size := f.Encoding.Size()
		values := make([]float64, 0, f.Len())
		finite := true
		for off := 0; off < len(value); off += size {
			v := readValue(f.Encoding, value[off:off+size])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
			}
			values = append(values, v)
		}
		if !finite {
			m.Invalid = append(m.Invalid, f.Name)
			continue
		}
		m.Readings = append(m.Readings, Reading{Field: f, Values: values})
	}
	if !haveSeq {
		return Measurement{}, ErrMissingSequence
	}
	return m, nil
}

func appendEntry(b []byte, key uint16, value []byte) []byte {
	b = append(b, byte(keySize+len(value)))
	b = binary.LittleEndian.AppendUint16(b, key)
	return append(b, value...)
}

func appendValue(b []byte, e Encoding, v float64) []byte {
	switch e {
	case Uint8:
		return append(b, byte(clamp(v, math.MaxUint8)))
	case Uint16:
		return binary.LittleEndian.AppendUint16(b, uint16(clamp(v, math.MaxUint16)))
	default:
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
	}
}

func readValue(e Encoding, b []byte) float64 {
	switch e {
	case Uint8:
		return float64(b[0])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	default:
		// Shortest float32 representation, so 23.3 stays 23.3 upstream.
		f := math.Float32frombits(binary.LittleEndian.Uint32(b))
		v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
		return v
	}
}

func clamp(v, max float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > max {
		return max
	}
	return math.Round(v)
}
