package model

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// LSN is a position in the source write-ahead log. It serializes in the
// conventional "XXXXXXXX/XXXXXXXX" form.
type LSN uint64

func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}

// ParseLSN parses the "X/Y" textual form.
func ParseLSN(s string) (LSN, error) {
	var hi, lo uint32
	n, err := fmt.Sscanf(s, "%X/%X", &hi, &lo)
	if err != nil {
		return 0, fmt.Errorf("parse lsn %q: %w", s, err)
	}
	if n != 2 {
		return 0, fmt.Errorf("parse lsn %q: expected two hex fields, got %d", s, n)
	}
	return LSN(uint64(hi)<<32 | uint64(lo)), nil
}

func (l LSN) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *LSN) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLSN(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// EncodeMsgpack keeps the msgpack wire form aligned with the JSON one.
func (l LSN) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(l.String())
}

func (l *LSN) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	parsed, err := ParseLSN(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

var (
	_ msgpack.CustomEncoder = LSN(0)
	_ msgpack.CustomDecoder = (*LSN)(nil)
)
