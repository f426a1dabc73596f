package pgoutput

import (
	"encoding/hex"
	"strings"

	"wirecdc/internal/model"
)

// Top-level message tags.
const (
	tagBegin    = 'B'
	tagCommit   = 'C'
	tagInsert   = 'I'
	tagUpdate   = 'U'
	tagDelete   = 'D'
	tagRelation = 'R'
	tagTruncate = 'T'
	tagTypeDef  = 'Y'
	tagOrigin   = 'O'
)

// Tuple marker bytes. Some producers frame each tuple with one of these; the
// spec-shaped stream omits them for inserts and deletes. A tuple proper opens
// with its 2-byte column count and tables never reach 19000 columns, so a
// leading marker byte is unambiguous either way.
const (
	markerNew    = 'N'
	markerOldRow = 'O'
	markerOldKey = 'K'
)

// previewLimit bounds the hex previews attached to Unknown and Error events.
const previewLimit = 50

// Decode parses one complete wire message into a ChangeEvent. It never
// panics and never returns a Go error: an empty buffer yields an Error event,
// an unclaimed tag yields an Unknown event, and truncated bodies keep the
// fields that decoded before the buffer ran out, zero values for the rest.
func Decode(buf []byte) model.ChangeEvent {
	if len(buf) == 0 {
		return &model.ErrorEvent{Type: model.EventError, Message: "empty input"}
	}
	c := NewCursor(buf[1:])
	switch buf[0] {
	case tagBegin:
		return decodeBegin(c)
	case tagCommit:
		return decodeCommit(c)
	case tagInsert:
		return decodeInsert(c)
	case tagUpdate:
		return decodeUpdate(c)
	case tagDelete:
		return decodeDelete(c)
	case tagRelation:
		return decodeRelation(c)
	case tagTruncate:
		return decodeTruncate(c)
	case tagTypeDef:
		return decodeTypeDef(c)
	case tagOrigin:
		return decodeOrigin(c)
	default:
		return &model.UnknownEvent{
			Type:    model.EventUnknown,
			RawTag:  buf[0],
			Preview: HexPreview(buf),
		}
	}
}

// HexPreview renders a bounded hex dump of a buffer for diagnostics.
func HexPreview(buf []byte) string {
	if len(buf) > previewLimit {
		buf = buf[:previewLimit]
	}
	return hex.EncodeToString(buf)
}

func decodeBegin(c *Cursor) model.ChangeEvent {
	lsn, _ := c.ReadUint64()
	micros, _ := c.ReadUint64()
	xid, _ := c.ReadUint32()
	return &model.BeginEvent{
		Type:               model.EventBegin,
		LSN:                model.LSN(lsn),
		Timestamp:          int64(micros),
		TimestampFormatted: model.FormatPGMicros(int64(micros)),
		XID:                xid,
	}
}

func decodeCommit(c *Cursor) model.ChangeEvent {
	flags, _ := c.ReadUint8()
	lsn, _ := c.ReadUint64()
	endLSN, _ := c.ReadUint64()
	micros, _ := c.ReadUint64()
	return &model.CommitEvent{
		Type:               model.EventCommit,
		Flags:              flags,
		LSN:                model.LSN(lsn),
		EndLSN:             model.LSN(endLSN),
		Timestamp:          int64(micros),
		TimestampFormatted: model.FormatPGMicros(int64(micros)),
	}
}

func decodeInsert(c *Cursor) model.ChangeEvent {
	rid, _ := c.ReadUint32()
	skipTupleMarker(c, markerNew)
	return &model.InsertEvent{
		Type:       model.EventInsert,
		RelationID: rid,
		Tuple:      DecodeTuple(c),
	}
}

func decodeUpdate(c *Cursor) model.ChangeEvent {
	rid, _ := c.ReadUint32()
	ev := &model.UpdateEvent{Type: model.EventUpdate, RelationID: rid}
	marker, ok := c.ReadUint8()
	if ok && (marker == markerOldRow || marker == markerOldKey) {
		ev.HasOldTuple = true
		ev.OldTuple = DecodeTuple(c)
		skipTupleMarker(c, markerNew)
	}
	ev.NewTuple = DecodeTuple(c)
	return ev
}

func decodeDelete(c *Cursor) model.ChangeEvent {
	rid, _ := c.ReadUint32()
	skipTupleMarker(c, markerOldRow, markerOldKey)
	return &model.DeleteEvent{
		Type:       model.EventDelete,
		RelationID: rid,
		Tuple:      DecodeTuple(c),
	}
}

// skipTupleMarker consumes the next byte when it is one of the given marker
// bytes. A marker can never be confused with the column count that opens a
// tuple: the count's high byte would have to put the column total past 19000.
func skipTupleMarker(c *Cursor, markers ...byte) {
	next, ok := c.Peek()
	if !ok {
		return
	}
	for _, m := range markers {
		if next == m {
			c.Skip(1)
			return
		}
	}
}

func decodeRelation(c *Cursor) model.ChangeEvent {
	ev := &model.RelationEvent{Type: model.EventRelation}
	ev.RelationID, _ = c.ReadUint32()
	ev.Namespace, _ = c.ReadCString()
	ev.Name, _ = c.ReadCString()
	identity, _ := c.ReadUint8()
	ev.ReplicaIdentity = model.ReplicaIdentity(identity)
	count, _ := c.ReadUint16()
	// Each column needs at least 10 bytes, which bounds the preallocation
	// against a lying count.
	ev.Columns = make([]model.Column, 0, min(int(count), c.Remaining()/10+1))
	for i := 0; i < int(count); i++ {
		flags, ok := c.ReadUint8()
		if !ok {
			break
		}
		name, ok := c.ReadCString()
		if !ok {
			break
		}
		typeID, ok := c.ReadUint32()
		if !ok {
			break
		}
		modifier, ok := c.ReadUint32()
		if !ok {
			break
		}
		ev.Columns = append(ev.Columns, model.Column{
			Name:         name,
			Flags:        flags,
			TypeID:       typeID,
			TypeModifier: int32(modifier),
			IsKey:        flags&1 == 1,
		})
	}
	return ev
}

func decodeTruncate(c *Cursor) model.ChangeEvent {
	flags, _ := c.ReadUint32()
	count, _ := c.ReadUint16()
	ev := &model.TruncateEvent{
		Type:            model.EventTruncate,
		Cascade:         flags&1 == 1,
		RestartIdentity: flags&2 == 2,
	}
	ev.RelationIDs = make([]uint32, 0, min(int(count), c.Remaining()/4))
	for i := 0; i < int(count); i++ {
		rid, ok := c.ReadUint32()
		if !ok {
			break
		}
		ev.RelationIDs = append(ev.RelationIDs, rid)
	}
	return ev
}

func decodeTypeDef(c *Cursor) model.ChangeEvent {
	ev := &model.TypeDefEvent{Type: model.EventTypeDef}
	ev.TypeID, _ = c.ReadUint32()
	ev.Namespace, _ = c.ReadCString()
	ev.Name, _ = c.ReadCString()
	return ev
}

func decodeOrigin(c *Cursor) model.ChangeEvent {
	lsn, _ := c.ReadUint64()
	name := strings.TrimSuffix(string(c.Rest()), "\x00")
	return &model.OriginEvent{
		Type: model.EventOrigin,
		LSN:  model.LSN(lsn),
		Name: name,
	}
}
