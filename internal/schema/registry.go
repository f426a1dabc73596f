// Package schema caches the relation and type definitions a decoding session
// learns from schema messages, and correlates positional tuple values against
// them. Relation identifiers are only stable within one replication session,
// so the transport clears the registry whenever it starts a fresh stream.
package schema

import (
	"strconv"
	"sync"

	"wirecdc/internal/model"
)

// RelationDef is a cached table definition. The registry owns every
// definition it stores; columns are copied on insert.
type RelationDef struct {
	ID              uint32
	Namespace       string
	Name            string
	ReplicaIdentity model.ReplicaIdentity
	Columns         []model.Column
}

// TypeDef is a cached custom type definition.
type TypeDef struct {
	ID        uint32
	Namespace string
	Name      string
}

// Registry maps relation and type identifiers to their definitions. Lookups
// for unknown identifiers degrade instead of failing: callers get an explicit
// not-found signal or a positional fallback shape. A mutex serializes access
// because the transport's session-reset hook runs on the connection
// goroutine.
type Registry struct {
	mu        sync.RWMutex
	relations map[uint32]RelationDef
	types     map[uint32]TypeDef
}

func NewRegistry() *Registry {
	return &Registry{
		relations: make(map[uint32]RelationDef),
		types:     make(map[uint32]TypeDef),
	}
}

// AddRelation replaces any prior definition for the event's relation id.
func (r *Registry) AddRelation(ev *model.RelationEvent) {
	def := RelationDef{
		ID:              ev.RelationID,
		Namespace:       ev.Namespace,
		Name:            ev.Name,
		ReplicaIdentity: ev.ReplicaIdentity,
		Columns:         append([]model.Column(nil), ev.Columns...),
	}
	r.mu.Lock()
	r.relations[def.ID] = def
	r.mu.Unlock()
}

// AddType replaces any prior definition for the event's type id.
func (r *Registry) AddType(ev *model.TypeDefEvent) {
	r.mu.Lock()
	r.types[ev.TypeID] = TypeDef{ID: ev.TypeID, Namespace: ev.Namespace, Name: ev.Name}
	r.mu.Unlock()
}

// FullTableName returns "namespace.name" for a known relation id.
func (r *Registry) FullTableName(id uint32) (string, bool) {
	r.mu.RLock()
	def, ok := r.relations[id]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return def.Namespace + "." + def.Name, true
}

// TypeName returns "namespace.name" for a known type id.
func (r *Registry) TypeName(id uint32) (string, bool) {
	r.mu.RLock()
	def, ok := r.types[id]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return def.Namespace + "." + def.Name, true
}

// PrimaryKeyColumns returns the key column names in their original column
// order. The result is never nil; an unknown id yields an empty list.
func (r *Registry) PrimaryKeyColumns(id uint32) []string {
	r.mu.RLock()
	def, ok := r.relations[id]
	r.mu.RUnlock()
	keys := make([]string, 0, 2)
	if !ok {
		return keys
	}
	for _, col := range def.Columns {
		if col.IsKey {
			keys = append(keys, col.Name)
		}
	}
	return keys
}

// MapTupleToColumns zips positional values with the relation's column names.
// For an unknown id the raw ordered slice comes back unmodified; callers must
// check for that degraded shape. Columns past the end of the tuple are left
// absent from the map, and values past the end of the columns appear under
// synthetic "extra_{index}" keys.
func (r *Registry) MapTupleToColumns(id uint32, values []any) any {
	r.mu.RLock()
	def, ok := r.relations[id]
	r.mu.RUnlock()
	if !ok {
		return values
	}
	out := make(map[string]any, len(values))
	for i, v := range values {
		if i < len(def.Columns) {
			out[def.Columns[i].Name] = v
		} else {
			out["extra_"+strconv.Itoa(i)] = v
		}
	}
	return out
}

// Clear drops every cached definition.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.relations = make(map[uint32]RelationDef)
	r.types = make(map[uint32]TypeDef)
	r.mu.Unlock()
}

// Sizes reports how many relations and types are cached.
func (r *Registry) Sizes() (relations, types int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relations), len(r.types)
}
