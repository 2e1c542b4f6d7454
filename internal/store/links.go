package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clipforge/internal/promo"
)

// InsertLink adds a standalone link. The campaign orchestrator never calls
// this for promo links (those only exist via Launch); it exists for the
// profile editor's manual entries.
func (s *Store) InsertLink(l promo.Link) error {
	if l.ID == "" {
		return fmt.Errorf("link missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO links (id, origin, title, url, active, hero, nsfw, thumbnail_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Origin), l.Title, l.URL, boolInt(l.Active), boolInt(l.Hero),
		boolInt(l.NSFW), l.ThumbnailRef, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// GetLink returns one link by id and origin.
func (s *Store) GetLink(id string, origin promo.LinkOrigin) (*promo.Link, error) {
	row := s.db.QueryRow(`SELECT id, origin, title, url, active, hero, nsfw, thumbnail_ref
		FROM links WHERE id = ? AND origin = ?`, id, string(origin))
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("link %s/%s not found", id, origin)
		}
		return nil, err
	}
	return l, nil
}

// ListLinks returns every link, newest-first.
func (s *Store) ListLinks() ([]promo.Link, error) {
	rows, err := s.db.Query(`SELECT id, origin, title, url, active, hero, nsfw, thumbnail_ref
		FROM links ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var out []promo.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// SetLinkActive toggles the active flag of a promo link. Manual links are
// owned by the profile editor and are out of reach here.
func (s *Store) SetLinkActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE links SET active = ? WHERE id = ? AND origin = ?`,
		boolInt(active), id, string(promo.OriginPromo))
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("promo link %s not found", id)
	}
	return nil
}

func scanLink(row rowScanner) (*promo.Link, error) {
	var (
		l              promo.Link
		origin         string
		active         int
		hero, nsfwFlag int
	)
	if err := row.Scan(&l.ID, &origin, &l.Title, &l.URL, &active, &hero, &nsfwFlag, &l.ThumbnailRef); err != nil {
		return nil, err
	}
	l.Origin = promo.LinkOrigin(origin)
	l.Active = active != 0
	l.Hero = hero != 0
	l.NSFW = nsfwFlag != 0
	return &l, nil
}
