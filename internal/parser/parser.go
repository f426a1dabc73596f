package parser

import (
	"context"

	"wirecdc/internal/model"
)

// Supported logical decoding output plugins.
const (
	PluginPGOutput = "pgoutput"
	PluginWal2JSON = "wal2json"
)

// RawMessage is one replication payload as it came off the wire. Data is an
// exclusive copy, so decoders may alias it freely.
type RawMessage struct {
	Plugin   string
	WALStart model.LSN
	Data     []byte
}

// Parser turns raw replication payloads into change events, one event per
// binary message (the wal2json path fans a transaction envelope out into
// multiple events).
type Parser interface {
	Parse(ctx context.Context, stream <-chan *RawMessage) (<-chan model.ChangeEvent, error)
}

// SessionResetter is implemented by parsers that cache per-session schema
// state. The transport calls ResetSession when it starts a fresh replication
// stream, since relation identifiers are not stable across sessions.
type SessionResetter interface {
	ResetSession()
}
