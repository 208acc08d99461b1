package measurement

// Encoding is the little-endian wire type of every component of a field.
type Encoding uint8

const (
	Uint8 Encoding = iota + 1
	Uint16
	Float32
)

// Size returns the number of bytes one component occupies on the wire.
func (e Encoding) Size() int {
	switch e {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// Arity describes how a field expands into feed keys.
type Arity uint8

const (
	// Scalar fields have one component and expand to "<name>0".
	Scalar Arity = iota
	// Tuple fields have unnamed components and expand to "<name>0".."<name>N".
	Tuple
	// Struct fields have named components and expand to "<name>0<component>".
	Struct
)

// Field is one entry of the manufacturer data key table.
type Field struct {
	ID         uint16
	Name       string
	Encoding   Encoding
	Arity      Arity
	Components []string // Struct component names
	Count      int      // Tuple component count
}

// Len returns the number of components carried by the field.
func (f Field) Len() int {
	switch f.Arity {
	case Struct:
		return len(f.Components)
	case Tuple:
		return f.Count
	default:
		return 1
	}
}

// WireSize returns the size of the encoded value, excluding length and key.
func (f Field) WireSize() int {
	return f.Len() * f.Encoding.Size()
}

const (
	SequenceNumberID uint16 = 0x0003
	BatteryVoltageID uint16 = 0x0A12
	TemperatureID    uint16 = 0x0A04
)

var xyz = []string{"x", "y", "z"}

// Fields is the static key table of an Adafruit sensor measurement.
var Fields = []Field{
	{ID: SequenceNumberID, Name: "sequence_number", Encoding: Uint8},
	{ID: 0x0A00, Name: "acceleration", Encoding: Float32, Arity: Struct, Components: xyz},
	{ID: 0x0A01, Name: "magnetic", Encoding: Float32, Arity: Struct, Components: xyz},
	{ID: 0x0A02, Name: "orientation", Encoding: Float32, Arity: Struct, Components: xyz},
	{ID: 0x0A03, Name: "gyro", Encoding: Float32, Arity: Struct, Components: xyz},
	{ID: TemperatureID, Name: "temperature", Encoding: Float32},
	{ID: 0x0A05, Name: "eCO2", Encoding: Float32},
	{ID: 0x0A06, Name: "TVOC", Encoding: Float32},
	{ID: 0x0A07, Name: "distance", Encoding: Float32},
	{ID: 0x0A08, Name: "light", Encoding: Float32},
	{ID: 0x0A09, Name: "lux", Encoding: Float32},
	{ID: 0x0A0A, Name: "pressure", Encoding: Float32},
	{ID: 0x0A0B, Name: "relative_humidity", Encoding: Float32},
	{ID: 0x0A0C, Name: "current", Encoding: Float32},
	{ID: 0x0A0D, Name: "voltage", Encoding: Float32},
	{ID: 0x0A0E, Name: "color", Encoding: Float32},
	{ID: 0x0A11, Name: "duty_cycle", Encoding: Float32},
	{ID: BatteryVoltageID, Name: "battery_voltage", Encoding: Uint16},
	{ID: 0x0A13, Name: "value", Encoding: Float32},
	{ID: 0x0A14, Name: "weight", Encoding: Float32},
	{ID: 0x0A15, Name: "sound", Encoding: Float32},
}

var (
	fieldsByID   = make(map[uint16]Field, len(Fields))
	fieldsByName = make(map[string]Field, len(Fields))
)

func init() {
	for _, f := range Fields {
		fieldsByID[f.ID] = f
		fieldsByName[f.Name] = f
	}
}

// FieldByID looks up a field by its manufacturer data key.
func FieldByID(id uint16) (Field, bool) {
	f, ok := fieldsByID[id]
	return f, ok
}

// FieldByName looks up a field by its attribute name.
func FieldByName(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}
