package pgoutput

import (
	"wirecdc/internal/model"
	"wirecdc/internal/schema"
)

// Session couples the decoder with one schema registry. A session handles one
// logical decoding stream: buffers are processed strictly one at a time, and
// schema messages mutate the registry before the next buffer is seen.
type Session struct {
	registry *schema.Registry
}

func NewSession(registry *schema.Registry) *Session {
	if registry == nil {
		registry = schema.NewRegistry()
	}
	return &Session{registry: registry}
}

func (s *Session) Registry() *schema.Registry {
	return s.registry
}

// Process decodes one buffer, applies schema messages to the registry, and
// enriches data events with the table name, primary keys and named column
// maps the registry can resolve.
func (s *Session) Process(buf []byte) model.ChangeEvent {
	ev := Decode(buf)
	switch e := ev.(type) {
	case *model.RelationEvent:
		s.registry.AddRelation(e)
	case *model.TypeDefEvent:
		s.registry.AddType(e)
	case *model.InsertEvent:
		e.Table, _ = s.registry.FullTableName(e.RelationID)
		e.PrimaryKeys = s.registry.PrimaryKeyColumns(e.RelationID)
		e.Data = s.registry.MapTupleToColumns(e.RelationID, projectTuple(e.Tuple))
	case *model.UpdateEvent:
		e.Table, _ = s.registry.FullTableName(e.RelationID)
		e.PrimaryKeys = s.registry.PrimaryKeyColumns(e.RelationID)
		if e.HasOldTuple {
			e.OldData = s.registry.MapTupleToColumns(e.RelationID, projectTuple(e.OldTuple))
		}
		e.NewData = s.registry.MapTupleToColumns(e.RelationID, projectTuple(e.NewTuple))
	case *model.DeleteEvent:
		e.Table, _ = s.registry.FullTableName(e.RelationID)
		e.PrimaryKeys = s.registry.PrimaryKeyColumns(e.RelationID)
		e.Data = s.registry.MapTupleToColumns(e.RelationID, projectTuple(e.Tuple))
		// Unknown-typed columns are hidden from deletes rather than
		// surfaced as opaque markers.
		dropUnknownValues(e.Data)
	}
	return ev
}

// Reset clears the registry. The transport calls this when it starts a fresh
// stream, since relation ids are not stable across sessions.
func (s *Session) Reset() {
	s.registry.Clear()
}

// projectTuple turns raw tuple values into scalars: text becomes a string,
// binary goes through coercion, unchanged toast and unknown tags become
// their placeholder values.
func projectTuple(tuple []model.TupleValue) []any {
	if tuple == nil {
		return nil
	}
	out := make([]any, len(tuple))
	for i, v := range tuple {
		switch v.Kind {
		case model.TupleNull:
			out[i] = nil
		case model.TupleToast:
			out[i] = model.ToastPlaceholder
		case model.TupleText:
			out[i] = string(v.Data)
		case model.TupleBinary:
			out[i] = Coerce(v.Data)
		default:
			out[i] = model.UnknownValue(v.Tag)
		}
	}
	return out
}

func dropUnknownValues(mapped any) {
	m, ok := mapped.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		if _, unknown := v.(model.UnknownValue); unknown {
			delete(m, k)
		}
	}
}
