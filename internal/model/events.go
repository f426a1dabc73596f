package model

import (
	"strconv"
	"time"
)

// EventType identifies a ChangeEvent variant in serialized form.
type EventType string

const (
	EventBegin    EventType = "begin"
	EventCommit   EventType = "commit"
	EventInsert   EventType = "insert"
	EventUpdate   EventType = "update"
	EventDelete   EventType = "delete"
	EventRelation EventType = "relation"
	EventTruncate EventType = "truncate"
	EventTypeDef  EventType = "type"
	EventOrigin   EventType = "origin"
	EventUnknown  EventType = "unknown"
	EventError    EventType = "error"
)

// ChangeEvent is the closed union of decoded change-stream messages. Every
// variant lives in this package; external packages consume the union through
// type switches.
type ChangeEvent interface {
	EventType() EventType
	changeEvent()
}

// BeginEvent opens a transaction.
type BeginEvent struct {
	Type               EventType `json:"type"`
	LSN                LSN       `json:"lsn"`
	Timestamp          int64     `json:"timestamp"`
	TimestampFormatted string    `json:"timestamp_formatted"`
	XID                uint32    `json:"xid"`
}

// CommitEvent closes a transaction.
type CommitEvent struct {
	Type               EventType `json:"type"`
	Flags              uint8     `json:"flags"`
	LSN                LSN       `json:"lsn"`
	EndLSN             LSN       `json:"end_lsn"`
	Timestamp          int64     `json:"timestamp"`
	TimestampFormatted string    `json:"timestamp_formatted"`
}

// InsertEvent carries one new row. Tuple holds the raw positional values;
// Data, Table and PrimaryKeys are filled by the enrichment step and may be
// zero when the event is inspected straight out of the decoder.
type InsertEvent struct {
	Type        EventType    `json:"type"`
	RelationID  uint32       `json:"relation_id"`
	Table       string       `json:"table,omitempty"`
	Tuple       []TupleValue `json:"-"`
	Data        any          `json:"data"`
	PrimaryKeys []string     `json:"primary_keys"`
}

// UpdateEvent carries the new row and, when the source table's replica
// identity includes it, the old row.
type UpdateEvent struct {
	Type        EventType    `json:"type"`
	RelationID  uint32       `json:"relation_id"`
	Table       string       `json:"table,omitempty"`
	HasOldTuple bool         `json:"has_old_tuple"`
	OldTuple    []TupleValue `json:"-"`
	NewTuple    []TupleValue `json:"-"`
	OldData     any          `json:"old_data,omitempty"`
	NewData     any          `json:"new_data"`
	PrimaryKeys []string     `json:"primary_keys"`
}

// DeleteEvent carries the old row, or just its key columns, depending on the
// table's replica identity.
type DeleteEvent struct {
	Type        EventType    `json:"type"`
	RelationID  uint32       `json:"relation_id"`
	Table       string       `json:"table,omitempty"`
	Tuple       []TupleValue `json:"-"`
	Data        any          `json:"data"`
	PrimaryKeys []string     `json:"primary_keys"`
}

// RelationEvent announces or replaces a table definition.
type RelationEvent struct {
	Type            EventType       `json:"type"`
	RelationID      uint32          `json:"relation_id"`
	Namespace       string          `json:"namespace"`
	Name            string          `json:"name"`
	ReplicaIdentity ReplicaIdentity `json:"replica_identity"`
	Columns         []Column        `json:"columns"`
}

// TruncateEvent lists the relations emptied by a TRUNCATE statement.
type TruncateEvent struct {
	Type            EventType `json:"type"`
	Cascade         bool      `json:"cascade"`
	RestartIdentity bool      `json:"restart_identity"`
	RelationIDs     []uint32  `json:"relation_ids"`
}

// TypeDefEvent announces a custom type definition.
type TypeDefEvent struct {
	Type      EventType `json:"type"`
	TypeID    uint32    `json:"type_id"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
}

// OriginEvent identifies the upstream origin of the following changes.
type OriginEvent struct {
	Type EventType `json:"type"`
	LSN  LSN       `json:"lsn"`
	Name string    `json:"name"`
}

// UnknownEvent preserves a message whose tag no decoder claims.
type UnknownEvent struct {
	Type    EventType `json:"type"`
	RawTag  byte      `json:"raw_tag"`
	Preview string    `json:"preview"`
}

// ErrorEvent reports a structurally undecodable buffer. Decoding continues
// with the next message.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Preview string    `json:"preview,omitempty"`
}

func (*BeginEvent) EventType() EventType    { return EventBegin }
func (*CommitEvent) EventType() EventType   { return EventCommit }
func (*InsertEvent) EventType() EventType   { return EventInsert }
func (*UpdateEvent) EventType() EventType   { return EventUpdate }
func (*DeleteEvent) EventType() EventType   { return EventDelete }
func (*RelationEvent) EventType() EventType { return EventRelation }
func (*TruncateEvent) EventType() EventType { return EventTruncate }
func (*TypeDefEvent) EventType() EventType  { return EventTypeDef }
func (*OriginEvent) EventType() EventType   { return EventOrigin }
func (*UnknownEvent) EventType() EventType  { return EventUnknown }
func (*ErrorEvent) EventType() EventType    { return EventError }

func (*BeginEvent) changeEvent()    {}
func (*CommitEvent) changeEvent()   {}
func (*InsertEvent) changeEvent()   {}
func (*UpdateEvent) changeEvent()   {}
func (*DeleteEvent) changeEvent()   {}
func (*RelationEvent) changeEvent() {}
func (*TruncateEvent) changeEvent() {}
func (*TypeDefEvent) changeEvent()  {}
func (*OriginEvent) changeEvent()   {}
func (*UnknownEvent) changeEvent()  {}
func (*ErrorEvent) changeEvent()    {}

// IsDataChange reports whether the event describes a row mutation that
// downstream consumers subscribe to.
func IsDataChange(e ChangeEvent) bool {
	switch e.EventType() {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// pgEpochUnix is 2000-01-01T00:00:00Z, the zero point of replication
// timestamps, as Unix seconds.
const pgEpochUnix int64 = 946684800

// PGTime converts microseconds since the PostgreSQL epoch to a UTC time.
// time.Unix arithmetic keeps corrupt 64-bit values from overflowing.
func PGTime(micros int64) time.Time {
	return time.Unix(pgEpochUnix+micros/1_000_000, (micros%1_000_000)*1000).UTC()
}

// FormatPGMicros renders a replication timestamp as RFC 3339. Out-of-range
// values fall back to the raw integer so a corrupt timestamp never aborts
// decoding.
func FormatPGMicros(micros int64) string {
	t := PGTime(micros)
	if y := t.Year(); y < 0 || y > 9999 {
		return strconv.FormatInt(micros, 10)
	}
	return t.Format(time.RFC3339Nano)
}

// WALPosition is a confirmed replication position.
type WALPosition struct {
	LSN LSN `json:"lsn"`
}
