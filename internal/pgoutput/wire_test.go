package pgoutput

import "encoding/binary"

// Helpers to synthesize wire messages for tests.

func appendCString(b []byte, s string) []byte {
	return append(append(b, s...), 0)
}

func tupleHeader(count uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, count)
}

func appendNullColumn(b []byte) []byte {
	return append(b, tupleTagNull)
}

func appendToastColumn(b []byte) []byte {
	return append(b, tupleTagToast)
}

func appendTextColumn(b []byte, s string) []byte {
	b = append(b, tupleTagText)
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendBinaryColumn(b []byte, data []byte) []byte {
	b = append(b, tupleTagBinary)
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

func appendBinaryNullColumn(b []byte) []byte {
	b = append(b, tupleTagBinary)
	return binary.BigEndian.AppendUint32(b, nullLength)
}

func beginMessage(lsn uint64, micros uint64, xid uint32) []byte {
	b := []byte{tagBegin}
	b = binary.BigEndian.AppendUint64(b, lsn)
	b = binary.BigEndian.AppendUint64(b, micros)
	return binary.BigEndian.AppendUint32(b, xid)
}

func commitMessage(flags uint8, lsn, endLSN, micros uint64) []byte {
	b := []byte{tagCommit, flags}
	b = binary.BigEndian.AppendUint64(b, lsn)
	b = binary.BigEndian.AppendUint64(b, endLSN)
	return binary.BigEndian.AppendUint64(b, micros)
}

func insertMessage(rid uint32, tuple []byte) []byte {
	b := []byte{tagInsert}
	b = binary.BigEndian.AppendUint32(b, rid)
	return append(b, tuple...)
}

func deleteMessage(rid uint32, tuple []byte) []byte {
	b := []byte{tagDelete}
	b = binary.BigEndian.AppendUint32(b, rid)
	return append(b, tuple...)
}

type testColumn struct {
	name   string
	flags  uint8
	typeID uint32
}

func relationMessage(rid uint32, namespace, name string, identity byte, cols []testColumn) []byte {
	b := []byte{tagRelation}
	b = binary.BigEndian.AppendUint32(b, rid)
	b = appendCString(b, namespace)
	b = appendCString(b, name)
	b = append(b, identity)
	b = binary.BigEndian.AppendUint16(b, uint16(len(cols)))
	for _, col := range cols {
		b = append(b, col.flags)
		b = appendCString(b, col.name)
		b = binary.BigEndian.AppendUint32(b, col.typeID)
		b = binary.BigEndian.AppendUint32(b, 0xFFFFFFFF)
	}
	return b
}
