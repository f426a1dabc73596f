package pgoutput

import (
	"bytes"
	"strings"
	"testing"

	"wirecdc/internal/model"
)

func TestDecodeBeginRecoversFieldsExactly(t *testing.T) {
	buf := beginMessage(0x16B374D848, 760000000000000, 778)

	ev, ok := Decode(buf).(*model.BeginEvent)
	if !ok {
		t.Fatalf("Decode = %T, want *model.BeginEvent", Decode(buf))
	}
	if ev.LSN != model.LSN(0x16B374D848) {
		t.Errorf("LSN = %s, want 16/B374D848", ev.LSN)
	}
	if ev.XID != 778 {
		t.Errorf("XID = %d, want 778", ev.XID)
	}
	if ev.Timestamp != 760000000000000 {
		t.Errorf("Timestamp = %d", ev.Timestamp)
	}
	if ev.TimestampFormatted != "2024-01-31T07:06:40Z" {
		t.Errorf("TimestampFormatted = %q", ev.TimestampFormatted)
	}
	if ev.Type != model.EventBegin {
		t.Errorf("Type = %q", ev.Type)
	}
}

func TestDecodeBeginTruncatedKeepsDecodedPrefix(t *testing.T) {
	full := beginMessage(0x1000, 0, 9)
	ev, ok := Decode(full[:9]).(*model.BeginEvent) // tag + LSN only
	if !ok {
		t.Fatal("truncated begin did not decode as a begin event")
	}
	if ev.LSN != model.LSN(0x1000) {
		t.Errorf("LSN = %s, want 0/1000", ev.LSN)
	}
	if ev.XID != 0 || ev.Timestamp != 0 {
		t.Errorf("missing fields not zero: xid=%d ts=%d", ev.XID, ev.Timestamp)
	}
}

func TestDecodeCommit(t *testing.T) {
	buf := commitMessage(1, 0x2000, 0x2100, 86_400_000_000)
	ev, ok := Decode(buf).(*model.CommitEvent)
	if !ok {
		t.Fatal("commit buffer did not decode as a commit event")
	}
	if ev.Flags != 1 || ev.LSN != 0x2000 || ev.EndLSN != 0x2100 {
		t.Fatalf("commit fields = %+v", ev)
	}
	if ev.TimestampFormatted != "2000-01-02T00:00:00Z" {
		t.Errorf("TimestampFormatted = %q", ev.TimestampFormatted)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	ev, ok := Decode(nil).(*model.ErrorEvent)
	if !ok {
		t.Fatal("empty input did not produce an error event")
	}
	if ev.Message != "empty input" {
		t.Fatalf("Message = %q", ev.Message)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	buf := append([]byte{'Z'}, bytes.Repeat([]byte{0xAB}, 99)...)
	ev, ok := Decode(buf).(*model.UnknownEvent)
	if !ok {
		t.Fatal("tag 'Z' did not produce an unknown event")
	}
	if ev.RawTag != 'Z' {
		t.Errorf("RawTag = %q", ev.RawTag)
	}
	if len(ev.Preview) != previewLimit*2 {
		t.Errorf("preview length = %d hex chars, want %d", len(ev.Preview), previewLimit*2)
	}
	if !strings.HasPrefix(ev.Preview, "5a") {
		t.Errorf("preview = %q, should start with the tag byte", ev.Preview)
	}
}

func TestDecodeInsert(t *testing.T) {
	tuple := tupleHeader(2)
	tuple = appendTextColumn(tuple, "abc")
	tuple = appendNullColumn(tuple)

	// The plain shape and the marker-framed shape decode identically.
	plain := insertMessage(42, tuple)
	framed := insertMessage(42, append([]byte{markerNew}, tuple...))

	for _, buf := range [][]byte{plain, framed} {
		ev, ok := Decode(buf).(*model.InsertEvent)
		if !ok {
			t.Fatal("insert buffer did not decode as an insert event")
		}
		if ev.RelationID != 42 {
			t.Fatalf("RelationID = %d", ev.RelationID)
		}
		if len(ev.Tuple) != 2 {
			t.Fatalf("decoded %d tuple values, want 2", len(ev.Tuple))
		}
		if string(ev.Tuple[0].Data) != "abc" || ev.Tuple[1].Kind != model.TupleNull {
			t.Fatalf("tuple = %+v", ev.Tuple)
		}
	}
}

func TestDecodeInsertTruncatedAfterRelationID(t *testing.T) {
	buf := insertMessage(7, nil)
	ev, ok := Decode(buf).(*model.InsertEvent)
	if !ok {
		t.Fatal("truncated insert did not decode as an insert event")
	}
	if ev.RelationID != 7 {
		t.Fatalf("RelationID = %d", ev.RelationID)
	}
	if len(ev.Tuple) != 0 {
		t.Fatalf("tuple = %+v, want empty", ev.Tuple)
	}
}

func TestDecodeUpdateWithOldTuple(t *testing.T) {
	oldTuple := tupleHeader(1)
	oldTuple = appendTextColumn(oldTuple, "before")
	newTuple := tupleHeader(1)
	newTuple = appendTextColumn(newTuple, "after")

	// Old tuple marked 'K', new tuple framed with 'N'.
	framed := []byte{tagUpdate}
	framed = append(framed, 0x00, 0x00, 0x00, 0x09)
	framed = append(framed, markerOldKey)
	framed = append(framed, oldTuple...)
	framed = append(framed, markerNew)
	framed = append(framed, newTuple...)

	// Same content without the 'N' between the tuples.
	plain := []byte{tagUpdate}
	plain = append(plain, 0x00, 0x00, 0x00, 0x09)
	plain = append(plain, markerOldRow)
	plain = append(plain, oldTuple...)
	plain = append(plain, newTuple...)

	for _, buf := range [][]byte{framed, plain} {
		ev, ok := Decode(buf).(*model.UpdateEvent)
		if !ok {
			t.Fatal("update buffer did not decode as an update event")
		}
		if !ev.HasOldTuple {
			t.Fatal("HasOldTuple = false")
		}
		if len(ev.OldTuple) != 1 || string(ev.OldTuple[0].Data) != "before" {
			t.Fatalf("old tuple = %+v", ev.OldTuple)
		}
		if len(ev.NewTuple) != 1 || string(ev.NewTuple[0].Data) != "after" {
			t.Fatalf("new tuple = %+v", ev.NewTuple)
		}
	}
}

func TestDecodeUpdateWithoutOldTuple(t *testing.T) {
	newTuple := tupleHeader(1)
	newTuple = appendTextColumn(newTuple, "v2")

	buf := []byte{tagUpdate, 0x00, 0x00, 0x00, 0x09, markerNew}
	buf = append(buf, newTuple...)

	ev, ok := Decode(buf).(*model.UpdateEvent)
	if !ok {
		t.Fatal("update buffer did not decode as an update event")
	}
	if ev.HasOldTuple {
		t.Fatal("HasOldTuple = true without an old tuple")
	}
	if ev.OldTuple != nil {
		t.Fatalf("old tuple = %+v, want nil", ev.OldTuple)
	}
	if len(ev.NewTuple) != 1 || string(ev.NewTuple[0].Data) != "v2" {
		t.Fatalf("new tuple = %+v", ev.NewTuple)
	}
}

func TestDecodeDelete(t *testing.T) {
	tuple := tupleHeader(1)
	tuple = appendTextColumn(tuple, "gone")

	plain := deleteMessage(5, tuple)
	framed := deleteMessage(5, append([]byte{markerOldKey}, tuple...))

	for _, buf := range [][]byte{plain, framed} {
		ev, ok := Decode(buf).(*model.DeleteEvent)
		if !ok {
			t.Fatal("delete buffer did not decode as a delete event")
		}
		if ev.RelationID != 5 {
			t.Fatalf("RelationID = %d", ev.RelationID)
		}
		if len(ev.Tuple) != 1 || string(ev.Tuple[0].Data) != "gone" {
			t.Fatalf("tuple = %+v", ev.Tuple)
		}
	}
}

func TestDecodeRelation(t *testing.T) {
	buf := relationMessage(42, "public", "users", 'f', []testColumn{
		{name: "id", flags: 1, typeID: 23},
		{name: "name", flags: 0, typeID: 25},
	})

	ev, ok := Decode(buf).(*model.RelationEvent)
	if !ok {
		t.Fatal("relation buffer did not decode as a relation event")
	}
	if ev.RelationID != 42 || ev.Namespace != "public" || ev.Name != "users" {
		t.Fatalf("relation = %+v", ev)
	}
	if ev.ReplicaIdentity != model.ReplicaIdentityFull {
		t.Errorf("ReplicaIdentity = %s", ev.ReplicaIdentity)
	}
	if len(ev.Columns) != 2 {
		t.Fatalf("decoded %d columns, want 2", len(ev.Columns))
	}
	id := ev.Columns[0]
	if id.Name != "id" || !id.IsKey || id.TypeID != 23 || id.TypeModifier != -1 {
		t.Fatalf("columns[0] = %+v", id)
	}
	if ev.Columns[1].IsKey {
		t.Fatal("columns[1] flagged as key")
	}
}

func TestDecodeRelationTruncatedColumnList(t *testing.T) {
	full := relationMessage(9, "s", "t", 'd', []testColumn{
		{name: "a", flags: 1, typeID: 23},
		{name: "b", flags: 0, typeID: 25},
	})
	// Cut into the middle of the second column definition.
	buf := full[:len(full)-6]

	ev, ok := Decode(buf).(*model.RelationEvent)
	if !ok {
		t.Fatal("truncated relation did not decode as a relation event")
	}
	if ev.RelationID != 9 || ev.Namespace != "s" {
		t.Fatalf("relation = %+v", ev)
	}
	if len(ev.Columns) != 1 || ev.Columns[0].Name != "a" {
		t.Fatalf("columns = %+v, want just column a", ev.Columns)
	}
}

func TestDecodeTruncate(t *testing.T) {
	buf := []byte{tagTruncate,
		0x00, 0x00, 0x00, 0x03, // cascade | restart identity
		0x00, 0x02,
		0x00, 0x00, 0x00, 0x0A,
		0x00, 0x00, 0x00, 0x14,
	}
	ev, ok := Decode(buf).(*model.TruncateEvent)
	if !ok {
		t.Fatal("truncate buffer did not decode as a truncate event")
	}
	if !ev.Cascade || !ev.RestartIdentity {
		t.Fatalf("flags = %+v", ev)
	}
	if len(ev.RelationIDs) != 2 || ev.RelationIDs[0] != 10 || ev.RelationIDs[1] != 20 {
		t.Fatalf("RelationIDs = %v", ev.RelationIDs)
	}
}

func TestDecodeTruncateShortIDList(t *testing.T) {
	buf := []byte{tagTruncate,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x03, // claims three ids
		0x00, 0x00, 0x00, 0x0A, // delivers one
	}
	ev, ok := Decode(buf).(*model.TruncateEvent)
	if !ok {
		t.Fatal("truncate buffer did not decode as a truncate event")
	}
	if len(ev.RelationIDs) != 1 || ev.RelationIDs[0] != 10 {
		t.Fatalf("RelationIDs = %v", ev.RelationIDs)
	}
}

func TestDecodeTypeDef(t *testing.T) {
	buf := []byte{tagTypeDef, 0x00, 0x00, 0x30, 0x39}
	buf = appendCString(buf, "public")
	buf = appendCString(buf, "mood")

	ev, ok := Decode(buf).(*model.TypeDefEvent)
	if !ok {
		t.Fatal("typedef buffer did not decode as a typedef event")
	}
	if ev.TypeID != 12345 || ev.Namespace != "public" || ev.Name != "mood" {
		t.Fatalf("typedef = %+v", ev)
	}
}

func TestDecodeOrigin(t *testing.T) {
	withNul := []byte{tagOrigin, 0, 0, 0, 0, 0, 0, 0x10, 0x00}
	withNul = appendCString(withNul, "region-a")
	withoutNul := withNul[:len(withNul)-1]

	for _, buf := range [][]byte{withNul, withoutNul} {
		ev, ok := Decode(buf).(*model.OriginEvent)
		if !ok {
			t.Fatal("origin buffer did not decode as an origin event")
		}
		if ev.LSN != 0x1000 {
			t.Errorf("LSN = %s", ev.LSN)
		}
		if ev.Name != "region-a" {
			t.Errorf("Name = %q", ev.Name)
		}
	}
}
