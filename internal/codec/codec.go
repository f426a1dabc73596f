// Package codec serializes change events for publishing. Both encodings
// share the JSON field names so consumers can switch formats without
// remapping keys.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"wirecdc/internal/model"
)

// Encoder turns one change event into a broker payload.
type Encoder interface {
	Encode(ev model.ChangeEvent) ([]byte, error)
	ContentType() string
}

// ForFormat selects an encoder by name. An empty format means JSON.
func ForFormat(format string) (Encoder, error) {
	switch format {
	case "", "json":
		return NewJSONEncoder(), nil
	case "msgpack":
		return NewMsgpackEncoder(), nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", format)
}

type JSONEncoder struct{}

func NewJSONEncoder() *JSONEncoder {
	return &JSONEncoder{}
}

func (e *JSONEncoder) Encode(ev model.ChangeEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

func (e *JSONEncoder) ContentType() string {
	return "application/json"
}

type MsgpackEncoder struct{}

func NewMsgpackEncoder() *MsgpackEncoder {
	return &MsgpackEncoder{}
}

func (e *MsgpackEncoder) Encode(ev model.ChangeEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *MsgpackEncoder) ContentType() string {
	return "application/msgpack"
}
