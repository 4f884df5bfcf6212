package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/go-verify-handoff/internal/domain"
)

// AuditArchive writes each audit event as one JSON object under
// <prefix>/<yyyy>/<mm>/<dd>/<id>.json.
type AuditArchive struct {
	store  *Store
	prefix string
}

func NewAuditArchive(store *Store, prefix string) *AuditArchive {
	return &AuditArchive{store: store, prefix: prefix}
}

func (a *AuditArchive) Record(ctx context.Context, ev domain.AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = a.store.Upload(ctx, a.key(ev), bytes.NewReader(body), "application/json")
	return err
}

func (a *AuditArchive) key(ev domain.AuditEvent) string {
	at := ev.At.UTC()
	return path.Join(a.prefix, at.Format("2006"), at.Format("01"), at.Format("02"), ev.ID+".json")
}
