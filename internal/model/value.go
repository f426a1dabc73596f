package model

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// TupleValueKind tags a TupleValue variant. The values mirror the wire tags
// where one exists.
type TupleValueKind byte

const (
	TupleNull    TupleValueKind = 'n'
	TupleToast   TupleValueKind = 'u'
	TupleText    TupleValueKind = 't'
	TupleBinary  TupleValueKind = 'b'
	TupleUnknown TupleValueKind = '?'
)

// TupleValue is one positional column value as decoded off the wire, before
// any schema correlation. Data is set for Text and Binary; Tag preserves the
// original wire tag for Unknown values.
type TupleValue struct {
	Kind TupleValueKind
	Data []byte
	Tag  byte
}

// Column describes one column of a relation definition.
type Column struct {
	Name         string `json:"name"`
	Flags        uint8  `json:"flags"`
	TypeID       uint32 `json:"type_id"`
	TypeModifier int32  `json:"type_modifier"`
	IsKey        bool   `json:"is_key"`
}

// ReplicaIdentity is the per-table setting controlling which columns appear
// as old values on update and delete messages.
type ReplicaIdentity byte

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

func (r ReplicaIdentity) String() string {
	switch r {
	case ReplicaIdentityDefault:
		return "default"
	case ReplicaIdentityNothing:
		return "nothing"
	case ReplicaIdentityFull:
		return "full"
	case ReplicaIdentityIndex:
		return "index"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(r))
	}
}

func (r ReplicaIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r ReplicaIdentity) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(r.String())
}

var _ msgpack.CustomEncoder = ReplicaIdentity(0)

// ToastPlaceholder stands in for a column value the source omitted because
// it is unchanged out-of-line storage.
const ToastPlaceholder = "unchanged-toast-datum"

// UnknownValue is the projection of a tuple value whose wire tag was not
// recognized. Delete enrichment strips these from the final map.
type UnknownValue byte

func (u UnknownValue) String() string {
	return fmt.Sprintf("unknown(0x%02x)", byte(u))
}

func (u UnknownValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u UnknownValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(u.String())
}

var _ msgpack.CustomEncoder = UnknownValue(0)
