// Package connector bridges the local replica's mutation queue to the
// remote backend and supplies the local sync runtime with short-lived
// credentials.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tasknest/tasknest/internal/backend"
	"github.com/tasknest/tasknest/internal/replica"
	"github.com/tasknest/tasknest/internal/sanitize"
	"github.com/tasknest/tasknest/internal/tables"
)

var (
	// ErrUnauthenticated means no session exists (or it has expired).
	// Fatal to the calling sync runtime, which must stop and prompt for
	// re-authentication.
	ErrUnauthenticated = errors.New("connector: not authenticated")

	// ErrNotConfigured means the sync endpoint is not configured. Fatal,
	// and operational rather than user-fixable.
	ErrNotConfigured = errors.New("connector: sync endpoint not configured")
)

// Session is the authenticated session the connector reads its
// credentials from.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionSource yields the current authenticated session, or nil when
// none exists.
type SessionSource interface {
	Current(ctx context.Context) (*Session, error)
}

// StaticSession is a SessionSource backed by a fixed session, used by the
// daemon whose session is loaded once from local state.
type StaticSession Session

func (s *StaticSession) Current(context.Context) (*Session, error) {
	if s == nil || s.Token == "" {
		return nil, nil
	}
	return (*Session)(s), nil
}

// Credentials is what the local sync runtime needs to keep pulling remote
// changes.
type Credentials struct {
	Endpoint  string     `json:"endpoint"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PendingSource yields ordered batches of queued local mutations. It is
// satisfied by *replica.Queue.
type PendingSource interface {
	NextTransaction(ctx context.Context) (*replica.Transaction, error)
	Complete(ctx context.Context, txID string) error
}

// Connector drains the local mutation queue into the remote backend.
//
// It assumes at most one concurrent drain per replica instance and does
// no internal locking; mutations within one transaction are applied
// strictly in order because later ones may depend on earlier ones.
type Connector struct {
	backend  backend.Backend
	sessions SessionSource
	endpoint string
	logger   *log.Logger
}

// New creates a Connector. If logger is nil, a default logger writing to
// stderr is used.
func New(b backend.Backend, sessions SessionSource, endpoint string, logger *log.Logger) *Connector {
	if logger == nil {
		logger = log.New(os.Stderr, "[connector] ", log.LstdFlags)
	}
	return &Connector{
		backend:  b,
		sessions: sessions,
		endpoint: endpoint,
		logger:   logger,
	}
}

// Credentials returns the current session's bearer token, the sync
// endpoint, and the token expiry.
func (c *Connector) Credentials(ctx context.Context) (Credentials, error) {
	sess, err := c.sessions.Current(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read session: %w", err)
	}
	if sess == nil || sess.Token == "" {
		return Credentials{}, ErrUnauthenticated
	}
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		return Credentials{}, ErrUnauthenticated
	}
	if c.endpoint == "" {
		return Credentials{}, ErrNotConfigured
	}

	creds := Credentials{Endpoint: c.endpoint, Token: sess.Token}
	if !sess.ExpiresAt.IsZero() {
		exp := sess.ExpiresAt
		creds.ExpiresAt = &exp
	}
	return creds, nil
}

// UploadPending drains the queue, applying each pending transaction's
// mutations in order against the remote backend. It returns the number of
// transactions acknowledged.
//
// A transaction is acknowledged only after every mutation in it succeeds.
// If any remote write fails the whole batch is left unacknowledged and
// the error is returned for the caller's backoff scheduling; upserts and
// deletes are keyed/filtered by id, so the inevitable replay is safe.
func (c *Connector) UploadPending(ctx context.Context, pending PendingSource) (int, error) {
	sess, err := c.sessions.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}
	if sess == nil || sess.UserID == "" {
		return 0, ErrUnauthenticated
	}
	scope := backend.UserScope(sess.UserID)

	applied := 0
	for {
		tx, err := pending.NextTransaction(ctx)
		if err != nil {
			return applied, fmt.Errorf("failed to read pending transaction: %w", err)
		}
		if tx == nil {
			return applied, nil
		}

		for _, m := range tx.Mutations {
			if !tables.IsSyncable(m.Table) {
				c.logger.Printf("WARNING: skipping mutation for non-syncable table %s", m.Table)
				continue
			}
			if err := c.apply(ctx, scope, m); err != nil {
				return applied, fmt.Errorf("transaction %s: %s on %s/%s: %w",
					tx.ID, m.Op, m.Table, m.RowID, err)
			}
		}

		if err := pending.Complete(ctx, tx.ID); err != nil {
			return applied, fmt.Errorf("failed to acknowledge transaction %s: %w", tx.ID, err)
		}
		applied++
		c.logger.Printf("Uploaded transaction %s (%d mutations)", tx.ID, len(tx.Mutations))
	}
}

func (c *Connector) apply(ctx context.Context, scope backend.Scope, m replica.Mutation) error {
	tbl, _ := tables.Lookup(m.Table)

	switch m.Op {
	case replica.OpPut:
		rec := sanitize.Record(m.Fields)
		if rec == nil {
			rec = map[string]any{}
		}
		if _, ok := rec["id"]; !ok && !tbl.Join && m.RowID != "" {
			rec["id"] = m.RowID
		}
		return c.backend.Upsert(ctx, scope, m.Table, rec)
	case replica.OpPatch:
		if tbl.Join {
			// The join table is nothing but its key, so a patch can
			// only restate the row.
			return c.backend.Upsert(ctx, scope, m.Table, sanitize.Record(m.Fields))
		}
		return c.backend.UpdateByID(ctx, scope, m.Table, m.RowID, sanitize.Record(m.Fields))
	case replica.OpDelete:
		if tbl.Join {
			return c.deleteJoinRow(ctx, scope, tbl, m)
		}
		return c.backend.DeleteByID(ctx, scope, m.Table, m.RowID)
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Op)
	}
}

// deleteJoinRow removes composite-keyed rows the replica cannot address
// by a single id. The mutation payload carries the key columns; a
// payload without them means the row id is the task whose assignments
// were removed locally, and every join row for it goes too.
func (c *Connector) deleteJoinRow(ctx context.Context, scope backend.Scope, tbl tables.Table, m replica.Mutation) error {
	match := backend.Row{}
	for _, col := range tbl.KeyColumns {
		if v, ok := m.Fields[col]; ok && v != nil && v != "" {
			match[col] = v
		}
	}
	if len(match) > 0 {
		return c.backend.DeleteMatch(ctx, scope, m.Table, match)
	}
	if m.RowID == "" {
		return fmt.Errorf("delete on %s carries no key columns", m.Table)
	}
	return c.backend.DeleteIn(ctx, scope, m.Table, tbl.KeyColumns[0], []any{m.RowID})
}
