package utils

const hexd = "0123456789abcdef"

// Hex16 formats v as "0x0822". Used for company ids and field keys in logs.
func Hex16(v uint16) string {
	return string([]byte{
		'0', 'x',
		hexd[(v>>12)&0xF],
		hexd[(v>>8)&0xF],
		hexd[(v>>4)&0xF],
		hexd[v&0xF],
	})
}

// BytesToHex converts a byte slice to lowercase hex. Output longer than max
// bytes is cut and suffixed with "..."; max <= 0 means no limit.
func BytesToHex(b []byte, max int) string {
	cut := false
	if max > 0 && len(b) > max {
		b = b[:max]
		cut = true
	}
	out := make([]byte, 0, len(b)*2+3)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	if cut {
		out = append(out, "..."...)
	}
	return string(out)
}
