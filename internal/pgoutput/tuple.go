package pgoutput

import "wirecdc/internal/model"

// Column-kind tags inside a tuple.
const (
	tupleTagNull   = 'n'
	tupleTagToast  = 'u'
	tupleTagText   = 't'
	tupleTagBinary = 0
)

// nullLength is the length sentinel marking a NULL binary value.
const nullLength = 0xFFFFFFFF

// DecodeTuple reads one positional tuple: a 2-byte column count followed by
// one tagged value per column. If the buffer runs out at any point the values
// decoded so far are returned; truncation is expected traffic, not an error.
func DecodeTuple(c *Cursor) []model.TupleValue {
	count, ok := c.ReadUint16()
	if !ok {
		return nil
	}
	values := make([]model.TupleValue, 0, min(int(count), c.Remaining()))
	for i := 0; i < int(count); i++ {
		tag, ok := c.ReadUint8()
		if !ok {
			return values
		}
		switch tag {
		case tupleTagNull:
			values = append(values, model.TupleValue{Kind: model.TupleNull})
		case tupleTagToast:
			values = append(values, model.TupleValue{Kind: model.TupleToast})
		case tupleTagText:
			length, ok := c.ReadUint32()
			if !ok {
				return values
			}
			data, ok := c.ReadBytes(int(length))
			if !ok {
				return values
			}
			values = append(values, model.TupleValue{Kind: model.TupleText, Data: data})
		case tupleTagBinary:
			length, ok := c.ReadUint32()
			if !ok {
				return values
			}
			if length == nullLength {
				values = append(values, model.TupleValue{Kind: model.TupleNull})
				continue
			}
			data, ok := c.ReadBytes(int(length))
			if !ok {
				return values
			}
			values = append(values, model.TupleValue{Kind: model.TupleBinary, Data: data})
		default:
			values = append(values, model.TupleValue{Kind: model.TupleUnknown, Tag: tag})
			// Best-effort re-alignment: assume a 4-byte length prefix
			// follows and skip the payload it announces.
			length, ok := c.ReadUint32()
			if !ok {
				return values
			}
			if !c.Skip(int(length)) {
				return values
			}
		}
	}
	return values
}
