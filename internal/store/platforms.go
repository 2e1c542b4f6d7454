package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clipforge/internal/logging"
	"clipforge/internal/promo"
)

// GetPlatform returns the publish state of one platform entry.
func (s *Store) GetPlatform(id string, platform promo.Platform) (promo.PlatformEntry, error) {
	var (
		e           promo.PlatformEntry
		status      string
		publishedAt sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT status, published_at FROM campaign_platforms
		WHERE campaign_id = ? AND platform = ?`, id, string(platform)).Scan(&status, &publishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, fmt.Errorf("%w: %s/%s", ErrNotFound, id, platform)
		}
		return e, fmt.Errorf("failed to read platform entry: %w", err)
	}
	e.Platform = platform
	e.Status = promo.PlatformStatus(status)
	if publishedAt.Valid {
		t := time.Unix(0, publishedAt.Int64).UTC()
		e.PublishedAt = &t
	}
	return e, nil
}

// TransitionPlatform moves one platform entry from `from` to `to` as a
// compare-and-swap. It returns false (and no error) when the entry was not
// in `from`, which is how concurrent deployers race benignly: exactly one
// caller wins each transition. The campaign's overall status is recomputed
// in the same transaction.
func (s *Store) TransitionPlatform(id string, platform promo.Platform, from, to promo.PlatformStatus, publishedAt *time.Time) (bool, error) {
	if !to.Valid() || !from.Valid() {
		return false, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transition tx: %w", err)
	}
	defer tx.Rollback()

	var ts interface{}
	if publishedAt != nil {
		ts = publishedAt.UnixNano()
	}
	res, err := tx.Exec(`UPDATE campaign_platforms SET status = ?, published_at = ?
		WHERE campaign_id = ? AND platform = ? AND status = ?`,
		string(to), ts, id, string(platform), string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition %s/%s: %w", id, platform, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish "lost the CAS race" from "no such entry".
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM campaign_platforms
			WHERE campaign_id = ? AND platform = ?`, id, string(platform)).Scan(&exists); err != nil {
			return false, err
		}
		if exists == 0 {
			return false, fmt.Errorf("%w: %s/%s", ErrNotFound, id, platform)
		}
		return false, nil
	}

	if err := recomputeStatus(tx, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	logging.StoreDebug("transition %s/%s: %s -> %s", id, platform, from, to)
	return true, nil
}

// recomputeStatus derives the campaign-level status from its platform rows.
func recomputeStatus(tx *sql.Tx, id string) error {
	rows, err := tx.Query(`SELECT status FROM campaign_platforms WHERE campaign_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to read platform statuses: %w", err)
	}
	defer rows.Close()

	total, published, publishing := 0, 0, 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		total++
		switch promo.PlatformStatus(status) {
		case promo.StatusPublished:
			published++
		case promo.StatusPublishing:
			publishing++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	overall := promo.StatusDraft
	switch {
	case publishing > 0:
		overall = promo.StatusPublishing
	case total > 0 && published == total:
		overall = promo.StatusPublished
	}

	if _, err := tx.Exec(`UPDATE campaigns SET status = ? WHERE id = ?`, string(overall), id); err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}
