// Package insights maintains a SQLite read model over the publish ledger and
// metrics history. The database is disposable: Sync rebuilds it from the
// JSONL files, so deleting it loses nothing.
package insights

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/metrics"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS posts (
	tweet_id     TEXT PRIMARY KEY,
	published_at DATETIME NOT NULL,
	draft_path   TEXT NOT NULL DEFAULT '',
	topics       TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS snapshots (
	tweet_id    TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL,
	impressions INTEGER,
	likes       INTEGER NOT NULL DEFAULT 0,
	replies     INTEGER NOT NULL DEFAULT 0,
	reposts     INTEGER NOT NULL DEFAULT 0,
	bookmarks   INTEGER NOT NULL DEFAULT 0,
	quotes      INTEGER NOT NULL DEFAULT 0,
	UNIQUE(tweet_id, fetched_at)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_tweet ON snapshots(tweet_id);
`

// bestSnapshotSQL picks one snapshot per post: the highest impression count
// seen across all fetches, newest fetch breaking ties. Posts with no
// snapshot still appear with NULL metrics.
const bestSnapshotSQL = `
SELECT p.tweet_id, p.published_at, p.draft_path, p.topics, p.text,
	s.impressions, COALESCE(s.likes, 0), COALESCE(s.replies, 0),
	COALESCE(s.reposts, 0), COALESCE(s.bookmarks, 0), COALESCE(s.quotes, 0)
FROM posts p
LEFT JOIN snapshots s ON s.rowid = (
	SELECT rowid FROM snapshots
	WHERE tweet_id = p.tweet_id
	ORDER BY impressions DESC, fetched_at DESC
	LIMIT 1
)
`

// PostRow is a post joined with its best snapshot. Impressions is nil when
// no fetch ever returned private metrics for the post.
type PostRow struct {
	TweetID     string
	PublishedAt time.Time
	DraftPath   string
	Topics      string
	Text        string
	Impressions *int
	Likes       int
	Replies     int
	Reposts     int
	Bookmarks   int
	Quotes      int
}

// DB wraps a sql.DB with read-model operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("insights: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("insights: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("insights: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Sync rebuilds the read model from ledger entries and metrics snapshots.
// topics maps a draft path to its topics string, empty when unknown.
func (db *DB) Sync(entries []ledger.Entry, snaps []metrics.Snapshot, topics map[string]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("insights: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM posts`); err != nil {
		return fmt.Errorf("insights: clear posts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("insights: clear snapshots: %w", err)
	}

	postStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO posts (tweet_id, published_at, draft_path, topics, text)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insights: prepare post insert: %w", err)
	}
	defer postStmt.Close()
	for _, e := range entries {
		if e.TweetID == "" {
			continue
		}
		if _, err := postStmt.Exec(e.TweetID, e.PublishedAt.UTC(), e.DraftPath, topics[e.DraftPath], e.Text); err != nil {
			return fmt.Errorf("insights: insert post: %w", err)
		}
	}

	snapStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO snapshots
			(tweet_id, fetched_at, impressions, likes, replies, reposts, bookmarks, quotes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insights: prepare snapshot insert: %w", err)
	}
	defer snapStmt.Close()
	for _, s := range snaps {
		var impressions any
		if v, ok := s.Impressions(); ok {
			impressions = v
		}
		_, err := snapStmt.Exec(s.TweetID, s.FetchedAt, impressions,
			s.Public("like_count"), s.Public("reply_count"),
			s.Public("retweet_count"), s.Public("bookmark_count"),
			s.Public("quote_count"))
		if err != nil {
			return fmt.Errorf("insights: insert snapshot: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) posts(orderBy string, limit int) ([]PostRow, error) {
	q := bestSnapshotSQL + " ORDER BY " + orderBy
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.conn.Query(q)
	if err != nil {
		return nil, fmt.Errorf("insights: query posts: %w", err)
	}
	defer rows.Close()

	var out []PostRow
	for rows.Next() {
		var r PostRow
		var impressions sql.NullInt64
		if err := rows.Scan(&r.TweetID, &r.PublishedAt, &r.DraftPath, &r.Topics, &r.Text,
			&impressions, &r.Likes, &r.Replies, &r.Reposts, &r.Bookmarks, &r.Quotes); err != nil {
			return nil, fmt.Errorf("insights: scan post: %w", err)
		}
		if impressions.Valid {
			v := int(impressions.Int64)
			r.Impressions = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopByImpressions returns the posts with the highest impression counts.
func (db *DB) TopByImpressions(limit int) ([]PostRow, error) {
	return db.posts("s.impressions DESC NULLS LAST, p.published_at DESC", limit)
}

// TopByReplies returns the posts with the most replies.
func (db *DB) TopByReplies(limit int) ([]PostRow, error) {
	return db.posts("COALESCE(s.replies, 0) DESC, p.published_at DESC", limit)
}

// AllPosts returns every post, newest first.
func (db *DB) AllPosts() ([]PostRow, error) {
	return db.posts("p.published_at DESC", 0)
}

// WindowTotals sums per-post best impressions and counts posts published
// within the window ending at now.
func (db *DB) WindowTotals(now time.Time, window time.Duration) (posts, impressions, withMetrics int, err error) {
	all, err := db.AllPosts()
	if err != nil {
		return 0, 0, 0, err
	}
	cutoff := now.Add(-window)
	for _, p := range all {
		if p.PublishedAt.Before(cutoff) || p.PublishedAt.After(now) {
			continue
		}
		posts++
		if p.Impressions != nil {
			impressions += *p.Impressions
			withMetrics++
		}
	}
	return posts, impressions, withMetrics, nil
}
