package store

import "context"

// auditedStore decorates a primary Store, duplicating every AddRequestLog
// call to a secondary audit sink (the embedded SQLite log) while leaving
// every other operation untouched. This lets the SQLite audit trail run
// alongside either MemStore or RedisStore without folding SQLite into the
// main persistence contract those two implement.
type auditedStore struct {
	Store
	audit *SQLiteAuditLog
}

// WithAudit wraps primary so every AddRequestLog call is also durably
// recorded to audit, in addition to whatever primary itself does with it.
func WithAudit(primary Store, audit *SQLiteAuditLog) Store {
	if audit == nil {
		return primary
	}
	return &auditedStore{Store: primary, audit: audit}
}

func (s *auditedStore) AddRequestLog(ctx context.Context, entry RequestLogEntry) error {
	_ = s.audit.AddRequestLog(ctx, entry)
	return s.Store.AddRequestLog(ctx, entry)
}
