package pgoutput

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"wirecdc/internal/model"
)

// Coerce guesses a scalar for a binary column value when no type catalog is
// available. The attempt order is a documented heuristic and part of the
// output contract: a 4-byte span that forms a valid integer is always an
// int32, never the float32 reinterpretation. When nothing applies the raw
// bytes surface as a "0x..." hex string.
func Coerce(data []byte) any {
	for _, attempt := range coercions {
		if v, ok := attempt(data); ok {
			return v
		}
	}
	return "0x" + hex.EncodeToString(data)
}

var coercions = []func([]byte) (any, bool){
	asInt32,
	asInt64,
	asFloat32,
	asFloat64,
	asTimestamp,
	asBool,
}

func asInt32(data []byte) (any, bool) {
	if len(data) != 4 {
		return nil, false
	}
	return int32(binary.BigEndian.Uint32(data)), true
}

func asInt64(data []byte) (any, bool) {
	if len(data) != 8 {
		return nil, false
	}
	return int64(binary.BigEndian.Uint64(data)), true
}

func asFloat32(data []byte) (any, bool) {
	if len(data) != 4 {
		return nil, false
	}
	f := math.Float32frombits(binary.BigEndian.Uint32(data))
	if math.IsNaN(float64(f)) {
		return nil, false
	}
	return f, true
}

func asFloat64(data []byte) (any, bool) {
	if len(data) != 8 {
		return nil, false
	}
	f := math.Float64frombits(binary.BigEndian.Uint64(data))
	if math.IsNaN(f) {
		return nil, false
	}
	return f, true
}

func asTimestamp(data []byte) (any, bool) {
	if len(data) != 8 {
		return nil, false
	}
	micros := int64(binary.BigEndian.Uint64(data))
	if micros <= 0 {
		return nil, false
	}
	t := model.PGTime(micros)
	if y := t.Year(); y < 0 || y > 9999 {
		return nil, false
	}
	return t, true
}

func asBool(data []byte) (any, bool) {
	if len(data) != 1 || data[0] > 1 {
		return nil, false
	}
	return data[0] == 1, true
}
