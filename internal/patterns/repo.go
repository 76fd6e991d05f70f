package patterns

import (
	"context"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Source supplies recent audit records, newest first.
type Source interface {
	Recent(ctx context.Context, target string, limit int) ([]models.AuditRecord, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, target string, limit int) ([]models.AuditRecord, error)

// Recent implements Source.
func (f SourceFunc) Recent(ctx context.Context, target string, limit int) ([]models.AuditRecord, error) {
	return f(ctx, target, limit)
}
