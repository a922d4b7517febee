package memory

import (
	"context"
	"maps"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	return s.write(ctx, func(t *tx) error {
		s.lastAudit++
		s.audit = append(s.audit, domain.AuditEntry{
			ID:        s.lastAudit,
			Event:     event,
			Detail:    maps.Clone(detail),
			CreatedAt: s.now(),
		})
		n := len(s.audit)
		t.undo = append(t.undo, func() {
			s.audit = s.audit[:n-1]
			s.lastAudit--
		})
		return nil
	})
}

// List returns audit entries newest first, honouring opts.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out := []domain.AuditEntry{}
	s.read(ctx, func() {
		skipped := 0
		for i := len(s.audit) - 1; i >= 0; i-- {
			e := s.audit[i]
			if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
			out = append(out, e)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return
			}
		}
	})
	return out, nil
}
