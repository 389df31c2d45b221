// Package identity implements the cross-platform identity resolver:
// mapping platform-prefixed user ids ("discord-100", "cli-alice", ...) onto a
// single canonical user, and linking additional adapters to that user.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkedVia records how a platform link was created.
type LinkedVia string

const (
	LinkedAuto   LinkedVia = "auto"
	LinkedConfig LinkedVia = "config"
)

// CanonicalUser is the stable identity a human has across platforms.
type CanonicalUser struct {
	ID          uuid.UUID
	DisplayName string
	CreatedAt   time.Time
}

// PlatformLink binds a platform-scoped identifier to a canonical user.
type PlatformLink struct {
	PrefixedID string
	Platform   string
	RawID      string
	UserID     uuid.UUID
	LinkedVia  LinkedVia
	CreatedAt  time.Time
}

// Resolver resolves and links canonical identities. ResolveAll is
// best-effort and degrades to the singleton set on any store failure;
// EnsureLink returns store errors to the caller.
type Resolver struct {
	db *sql.DB
}

func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Split divides a prefixed id on its first '-'. Absent a dash, the platform
// defaults to "cli" and the raw id is the whole string.
func Split(prefixedID string) (platform, rawID string) {
	if idx := strings.IndexByte(prefixedID, '-'); idx > 0 {
		return prefixedID[:idx], prefixedID[idx+1:]
	}
	return "cli", prefixedID
}

// ResolveAll returns every prefixed id linked to the same canonical user as
// prefixedID, including prefixedID itself. Never raises: on any store
// failure it returns the singleton {prefixedID}.
func (r *Resolver) ResolveAll(ctx context.Context, prefixedID string) []string {
	if r.db == nil {
		return []string{prefixedID}
	}

	var userID uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM platform_links WHERE prefixed_id = $1`, prefixedID,
	).Scan(&userID)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("identity: resolve lookup failed", "prefixed_id", prefixedID, "error", err)
		}
		return []string{prefixedID}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT prefixed_id FROM platform_links WHERE user_id = $1`, userID)
	if err != nil {
		slog.Warn("identity: resolve fan-out failed", "prefixed_id", prefixedID, "error", err)
		return []string{prefixedID}
	}
	defer rows.Close()

	seen := map[string]bool{prefixedID: true}
	out := []string{prefixedID}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// EnsureLink idempotently creates the canonical user and platform link for
// prefixedID. If linkTo names a known prefixed id, the new link attaches to
// that canonical user instead (relinking an existing link if it points
// elsewhere, tagged "config").
func (r *Resolver) EnsureLink(ctx context.Context, prefixedID, displayName string, linkTo *string) (uuid.UUID, error) {
	if r.db == nil {
		return uuid.Nil, fmt.Errorf("identity: no store configured")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingUser uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM platform_links WHERE prefixed_id = $1`, prefixedID,
	).Scan(&existingUser)
	if err != nil && err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("lookup link: %w", err)
	}
	hasLink := err == nil

	targetUser := existingUser
	via := LinkedAuto

	if linkTo != nil && *linkTo != "" {
		var linkToUser uuid.UUID
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM platform_links WHERE prefixed_id = $1`, *linkTo,
		).Scan(&linkToUser)
		if err == nil {
			targetUser = linkToUser
			via = LinkedConfig
		}
	}

	if targetUser == uuid.Nil {
		targetUser = uuid.New()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO canonical_users (id, display_name, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			targetUser, displayName, time.Now(),
		); err != nil {
			return uuid.Nil, fmt.Errorf("insert canonical user: %w", err)
		}
	}

	platform, rawID := Split(prefixedID)

	if !hasLink {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO platform_links (prefixed_id, platform, raw_id, user_id, linked_via, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (prefixed_id) DO NOTHING`,
			prefixedID, platform, rawID, targetUser, via, time.Now(),
		); err != nil {
			return uuid.Nil, fmt.Errorf("insert platform link: %w", err)
		}
	} else if existingUser != targetUser {
		// Relink: existing link pointed elsewhere and linkTo explicitly redirects it.
		if _, err := tx.ExecContext(ctx,
			`UPDATE platform_links SET user_id = $1, linked_via = $2 WHERE prefixed_id = $3`,
			targetUser, LinkedConfig, prefixedID,
		); err != nil {
			return uuid.Nil, fmt.Errorf("relink: %w", err)
		}
		slog.Info("identity: relinked", "prefixed_id", prefixedID, "from", existingUser, "to", targetUser)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return targetUser, nil
}
