package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestLSNString(t *testing.T) {
	tests := []struct {
		lsn  LSN
		want string
	}{
		{0, "0/0"},
		{0x16B374D848, "16/B374D848"},
		{0xFFFFFFFFFFFFFFFF, "FFFFFFFF/FFFFFFFF"},
	}
	for _, tt := range tests {
		if got := tt.lsn.String(); got != tt.want {
			t.Errorf("LSN(%d).String() = %q, want %q", uint64(tt.lsn), got, tt.want)
		}
	}
}

func TestParseLSN(t *testing.T) {
	got, err := ParseLSN("16/B374D848")
	if err != nil {
		t.Fatalf("ParseLSN: %v", err)
	}
	if want := LSN(0x16B374D848); got != want {
		t.Fatalf("ParseLSN = %s, want %s", got, want)
	}
	if _, err := ParseLSN("not-an-lsn"); err == nil {
		t.Fatal("ParseLSN accepted garbage input")
	}
}

func TestLSNJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(LSN(0x16B374D848))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"16/B374D848"` {
		t.Fatalf("marshal = %s, want %q", data, `"16/B374D848"`)
	}
	var back LSN
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != LSN(0x16B374D848) {
		t.Fatalf("round trip = %s", back)
	}
}

func TestPGTime(t *testing.T) {
	if got := PGTime(0).Unix(); got != 946684800 {
		t.Fatalf("PGTime(0).Unix() = %d, want 946684800", got)
	}
}

func TestFormatPGMicros(t *testing.T) {
	tests := []struct {
		micros int64
		want   string
	}{
		{0, "2000-01-01T00:00:00Z"},
		{86_400_000_000, "2000-01-02T00:00:00Z"},
		{1_500_000, "2000-01-01T00:00:01.5Z"},
		{math.MaxInt64, "9223372036854775807"},
		{-100_000_000_000_000_000, "-100000000000000000"},
	}
	for _, tt := range tests {
		if got := FormatPGMicros(tt.micros); got != tt.want {
			t.Errorf("FormatPGMicros(%d) = %q, want %q", tt.micros, got, tt.want)
		}
	}
}

func TestIsDataChange(t *testing.T) {
	if !IsDataChange(&InsertEvent{Type: EventInsert}) {
		t.Fatal("insert not classified as data change")
	}
	if !IsDataChange(&UpdateEvent{Type: EventUpdate}) {
		t.Fatal("update not classified as data change")
	}
	if !IsDataChange(&DeleteEvent{Type: EventDelete}) {
		t.Fatal("delete not classified as data change")
	}
	if IsDataChange(&BeginEvent{Type: EventBegin}) {
		t.Fatal("begin classified as data change")
	}
	if IsDataChange(&RelationEvent{Type: EventRelation}) {
		t.Fatal("relation classified as data change")
	}
}

func TestBeginEventJSONShape(t *testing.T) {
	ev := &BeginEvent{
		Type:               EventBegin,
		LSN:                0x16B374D848,
		Timestamp:          86_400_000_000,
		TimestampFormatted: "2000-01-02T00:00:00Z",
		XID:                778,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"begin","lsn":"16/B374D848","timestamp":86400000000,"timestamp_formatted":"2000-01-02T00:00:00Z","xid":778}`
	if string(data) != want {
		t.Fatalf("begin JSON = %s\nwant %s", data, want)
	}
}

func TestInsertEventJSONShape(t *testing.T) {
	ev := &InsertEvent{
		Type:        EventInsert,
		RelationID:  42,
		Table:       "public.t",
		Data:        map[string]any{"id": "abc"},
		PrimaryKeys: []string{"id"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "relation_id", "table", "data", "primary_keys"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("insert JSON missing %q: %s", key, data)
		}
	}
	if _, ok := decoded["Tuple"]; ok {
		t.Errorf("raw tuple leaked into JSON: %s", data)
	}
}

func TestUpdateEventOldDataOmitted(t *testing.T) {
	ev := &UpdateEvent{
		Type:        EventUpdate,
		RelationID:  7,
		NewData:     map[string]any{"id": int32(1)},
		PrimaryKeys: []string{},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["old_data"]; ok {
		t.Fatalf("old_data present without an old tuple: %s", data)
	}
	if _, ok := decoded["new_data"]; !ok {
		t.Fatalf("new_data missing: %s", data)
	}
	if pk, ok := decoded["primary_keys"].([]any); !ok || pk == nil {
		t.Fatalf("primary_keys should be an empty array, got %s", data)
	}
}

func TestReplicaIdentityString(t *testing.T) {
	tests := []struct {
		r    ReplicaIdentity
		want string
	}{
		{ReplicaIdentityDefault, "default"},
		{ReplicaIdentityNothing, "nothing"},
		{ReplicaIdentityFull, "full"},
		{ReplicaIdentityIndex, "index"},
		{ReplicaIdentity('z'), "unknown(0x7a)"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("ReplicaIdentity(%q).String() = %q, want %q", byte(tt.r), got, tt.want)
		}
	}
}

func TestUnknownValueJSON(t *testing.T) {
	data, err := json.Marshal(UnknownValue(0x3f))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"unknown(0x3f)"` {
		t.Fatalf("marshal = %s", data)
	}
}
