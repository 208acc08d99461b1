// Package measurement models Adafruit sensor broadcasts: the static field
// table, the manufacturer data codec and the expansion of readings into feed
// keys.
package measurement

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MissedMessageCountKey is the synthetic feed every sender carries.
const MissedMessageCountKey = "missed-message-count"

// Reading is one decoded field with its component values.
type Reading struct {
	Field  Field
	Values []float64
}

// Measurement is a single received (or to be sent) broadcast.
type Measurement struct {
	Address  Address
	Sequence uint8
	Readings []Reading
	RSSI     int16
	SeenAt   time.Time

	// Invalid names received fields that were dropped for a non-finite value.
	Invalid []string
}

// FeedValue is a flattened (feed key, value) pair.
type FeedValue struct {
	Key   string
	Value float64
}

// Set stores values for the named field, replacing an earlier reading of the
// same field.
func (m *Measurement) Set(name string, values ...float64) error {
	f, ok := FieldByName(name)
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	if f.ID == SequenceNumberID {
		return fmt.Errorf("sequence_number is carried by Measurement.Sequence")
	}
	if len(values) != f.Len() {
		return fmt.Errorf("field %s: got %d values, want %d", name, len(values), f.Len())
	}
	r := Reading{Field: f, Values: append([]float64(nil), values...)}
	for i := range m.Readings {
		if m.Readings[i].Field.ID == f.ID {
			m.Readings[i] = r
			return nil
		}
	}
	m.Readings = append(m.Readings, r)
	return nil
}

// Get returns the values of the named field, if present.
func (m Measurement) Get(name string) ([]float64, bool) {
	for _, r := range m.Readings {
		if r.Field.Name == name {
			return r.Values, true
		}
	}
	return nil, false
}

// FeedValues flattens every reading into feed keys. Scalars become "<name>0",
// struct components "<name>0<component>" and tuple components "<name><i>",
// each passed through FeedKey.
func (m Measurement) FeedValues() []FeedValue {
	var out []FeedValue
	for _, r := range m.Readings {
		f := r.Field
		switch f.Arity {
		case Struct:
			for i, c := range f.Components {
				if i < len(r.Values) {
					out = append(out, FeedValue{Key: FeedKey(f.Name + "0" + c), Value: r.Values[i]})
				}
			}
		case Tuple:
			for i, v := range r.Values {
				out = append(out, FeedValue{Key: FeedKey(f.Name + strconv.Itoa(i)), Value: v})
			}
		default:
			if len(r.Values) > 0 {
				out = append(out, FeedValue{Key: FeedKey(f.Name + "0"), Value: r.Values[0]})
			}
		}
	}
	return out
}

var feedKeyReplacer = strings.NewReplacer("_", "-", " ", "-")

// FeedKey turns a feed name into the key the remote derives from it:
// lowercase, with underscores and spaces replaced by dashes.
func FeedKey(name string) string {
	return feedKeyReplacer.Replace(strings.ToLower(name))
}

func (m Measurement) String() string {
	parts := []string{"sequence_number=" + strconv.Itoa(int(m.Sequence))}
	for _, r := range m.Readings {
		parts = append(parts, r.Field.Name+"="+formatValues(r))
	}
	sort.Strings(parts)
	return "<AdafruitSensorMeasurement " + strings.Join(parts, " ") + " >"
}

func formatValues(r Reading) string {
	if r.Field.Arity == Scalar && len(r.Values) == 1 {
		return strconv.FormatFloat(r.Values[0], 'g', -1, 64)
	}
	s := make([]string, len(r.Values))
	for i, v := range r.Values {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(s, ", ") + ")"
}
