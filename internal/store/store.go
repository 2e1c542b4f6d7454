// Package store persists campaigns and their mirrored public profile links
// in SQLite. A promo link and its campaign share an id and are created and
// destroyed in the same transaction; no partial state is ever observable.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"clipforge/internal/logging"
	"clipforge/internal/promo"
)

var (
	// ErrNotFound: no campaign with the given id.
	ErrNotFound = errors.New("campaign not found")
	// ErrLinkMissing: the campaign exists but its mirrored promo link does
	// not. This is a data-integrity violation, distinct from service errors.
	ErrLinkMissing = errors.New("mirrored promo link missing")
	// ErrExists: launch attempted with an id already in use.
	ErrExists = errors.New("campaign id already exists")
)

// Store is the durable record of campaigns and links.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	logging.Store("opening store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store ready")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		video_ref TEXT NOT NULL,
		clip_start INTEGER NOT NULL,
		clip_end INTEGER NOT NULL,
		caption TEXT NOT NULL,
		viral_title TEXT NOT NULL,
		viral_description TEXT NOT NULL,
		target_url TEXT NOT NULL,
		nsfw INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		assets TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_created ON campaigns(created_at DESC);

	CREATE TABLE IF NOT EXISTS campaign_platforms (
		campaign_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL,
		published_at INTEGER,
		position INTEGER NOT NULL,
		PRIMARY KEY (campaign_id, platform)
	);

	CREATE TABLE IF NOT EXISTS links (
		id TEXT NOT NULL,
		origin TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		hero INTEGER NOT NULL DEFAULT 0,
		nsfw INTEGER NOT NULL DEFAULT 0,
		thumbnail_ref TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (id, origin)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Launch atomically creates the campaign and its mirrored promo link.
// Either both records exist after the call or neither does.
func (s *Store) Launch(c promo.Campaign, l promo.Link) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if l.ID != c.ID {
		return fmt.Errorf("link id %q does not match campaign id %q", l.ID, c.ID)
	}
	if l.Origin != promo.OriginPromo {
		return fmt.Errorf("campaign-derived link must have origin %q, got %q", promo.OriginPromo, l.Origin)
	}

	assets, err := json.Marshal(c.Assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin launch tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR IGNORE INTO campaigns
		(id, video_ref, clip_start, clip_end, caption, viral_title, viral_description, target_url, nsfw, status, assets, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VideoRef, c.ClipStart, c.ClipEnd, c.Caption, c.ViralTitle, c.ViralDescription,
		c.TargetURL, boolInt(c.NSFW), string(c.Status), string(assets), c.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, c.ID)
	}

	for i, e := range c.Platforms {
		var publishedAt interface{}
		if e.PublishedAt != nil {
			publishedAt = e.PublishedAt.UnixNano()
		}
		if _, err := tx.Exec(`INSERT INTO campaign_platforms (campaign_id, platform, status, published_at, position)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, string(e.Platform), string(e.Status), publishedAt, i); err != nil {
			return fmt.Errorf("failed to insert platform %s: %w", e.Platform, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO links (id, origin, title, url, active, hero, nsfw, thumbnail_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Origin), l.Title, l.URL, boolInt(l.Active), boolInt(l.Hero),
		boolInt(l.NSFW), l.ThumbnailRef, c.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit launch: %w", err)
	}
	logging.Store("launched campaign %s with %d platforms", c.ID, len(c.Platforms))
	return nil
}

// Delete removes the campaign and its mirrored promo link in one
// transaction. A manual link sharing the id is never touched. A campaign
// whose promo link is missing is an invariant violation: the delete aborts
// without removing anything.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := tx.Exec(`DELETE FROM campaign_platforms WHERE campaign_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete platform entries: %w", err)
	}

	res, err = tx.Exec(`DELETE FROM links WHERE id = ? AND origin = ?`, id, string(promo.OriginPromo))
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: campaign %s", ErrLinkMissing, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	logging.Store("deleted campaign %s and its promo link", id)
	return nil
}

// Get returns the campaign with the given id.
func (s *Store) Get(id string) (*promo.Campaign, error) {
	row := s.db.QueryRow(`SELECT id, video_ref, clip_start, clip_end, caption, viral_title,
		viral_description, target_url, nsfw, status, assets, created_at
		FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if err := s.loadPlatforms(c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns all campaigns newest-first.
func (s *Store) List() ([]promo.Campaign, error) {
	rows, err := s.db.Query(`SELECT id, video_ref, clip_start, clip_end, caption, viral_title,
		viral_description, target_url, nsfw, status, assets, created_at
		FROM campaigns ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var out []promo.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadPlatforms(c); err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetAsset records the reference of a rendered asset on the campaign.
func (s *Store) SetAsset(id string, aspect promo.AspectRatio, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin asset tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRow(`SELECT assets FROM campaigns WHERE id = ?`, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to read assets: %w", err)
	}

	assets := map[promo.AspectRatio]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &assets); err != nil {
			return fmt.Errorf("corrupt assets column for %s: %w", id, err)
		}
	}
	assets[aspect] = ref

	encoded, err := json.Marshal(assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}
	if _, err := tx.Exec(`UPDATE campaigns SET assets = ? WHERE id = ?`, string(encoded), id); err != nil {
		return fmt.Errorf("failed to update assets: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*promo.Campaign, error) {
	var (
		c         promo.Campaign
		nsfw      int
		status    string
		assets    string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.VideoRef, &c.ClipStart, &c.ClipEnd, &c.Caption, &c.ViralTitle,
		&c.ViralDescription, &c.TargetURL, &nsfw, &status, &assets, &createdAt); err != nil {
		return nil, err
	}
	c.NSFW = nsfw != 0
	c.Status = promo.PlatformStatus(status)
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.Assets = map[promo.AspectRatio]string{}
	if assets != "" {
		if err := json.Unmarshal([]byte(assets), &c.Assets); err != nil {
			return nil, fmt.Errorf("corrupt assets column for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (s *Store) loadPlatforms(c *promo.Campaign) error {
	rows, err := s.db.Query(`SELECT platform, status, published_at FROM campaign_platforms
		WHERE campaign_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load platforms for %s: %w", c.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e           promo.PlatformEntry
			platform    string
			status      string
			publishedAt sql.NullInt64
		)
		if err := rows.Scan(&platform, &status, &publishedAt); err != nil {
			return err
		}
		e.Platform = promo.Platform(platform)
		e.Status = promo.PlatformStatus(status)
		if publishedAt.Valid {
			t := time.Unix(0, publishedAt.Int64).UTC()
			e.PublishedAt = &t
		}
		c.Platforms = append(c.Platforms, e)
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
