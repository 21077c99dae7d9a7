package orm

import "context"

// MappingCallback is implemented by auxiliary mappings layered on top
// of relation fields (e.g. collection mappings maintained by external
// query machinery). Callbacks run while deferred relations are
// applied, after the owning record's key is final.
type MappingCallback interface {
	PostInsert(ctx context.Context, s *Session, owner Persistable, field FieldMeta) error
	PostUpdate(ctx context.Context, s *Session, owner Persistable, field FieldMeta) error
}

// CallbackRegistry holds mapping callbacks keyed by kind and field.
type CallbackRegistry struct {
	byField map[string][]MappingCallback
}

// NewCallbackRegistry creates a new empty CallbackRegistry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{byField: make(map[string][]MappingCallback)}
}

// Register adds a callback for a kind's field.
func (r *CallbackRegistry) Register(kind, field string, cb MappingCallback) {
	k := kind + "." + field
	r.byField[k] = append(r.byField[k], cb)
}

// For returns the callbacks registered for a kind's field.
func (r *CallbackRegistry) For(kind, field string) []MappingCallback {
	return r.byField[kind+"."+field]
}

func (r *CallbackRegistry) postInsert(ctx context.Context, s *Session, owner Persistable, field FieldMeta) error {
	for _, cb := range r.For(owner.Meta().Kind, field.Name) {
		if err := cb.PostInsert(ctx, s, owner, field); err != nil {
			return err
		}
	}
	return nil
}

func (r *CallbackRegistry) postUpdate(ctx context.Context, s *Session, owner Persistable, field FieldMeta) error {
	for _, cb := range r.For(owner.Meta().Kind, field.Name) {
		if err := cb.PostUpdate(ctx, s, owner, field); err != nil {
			return err
		}
	}
	return nil
}
