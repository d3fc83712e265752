// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-metadata-fetcher/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists normalized repository records and crawl cursors in PostgreSQL.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// withTx runs fn with a Store bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pool == nil {
		return errors.New("store: nested transactions are not supported")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const upsertRepository = `
INSERT INTO repositories (
    host, host_id, full_name, description, fork, repo_created_at, repo_updated_at,
    homepage, size, watchers_count, forks_count, open_issues_count, network_count,
    subscribers_count, language, archived, disabled, owner_login, owner_type,
    license_key, license_name, captured_at, raw
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
    $19, $20, $21, $22, $23
)
ON CONFLICT (host, host_id) DO UPDATE SET
    full_name         = EXCLUDED.full_name,
    description       = EXCLUDED.description,
    fork              = EXCLUDED.fork,
    repo_created_at   = EXCLUDED.repo_created_at,
    repo_updated_at   = EXCLUDED.repo_updated_at,
    homepage          = EXCLUDED.homepage,
    size              = EXCLUDED.size,
    watchers_count    = EXCLUDED.watchers_count,
    forks_count       = EXCLUDED.forks_count,
    open_issues_count = EXCLUDED.open_issues_count,
    network_count     = EXCLUDED.network_count,
    subscribers_count = EXCLUDED.subscribers_count,
    language          = EXCLUDED.language,
    archived          = EXCLUDED.archived,
    disabled          = EXCLUDED.disabled,
    owner_login       = EXCLUDED.owner_login,
    owner_type        = EXCLUDED.owner_type,
    license_key       = EXCLUDED.license_key,
    license_name      = EXCLUDED.license_name,
    captured_at       = EXCLUDED.captured_at,
    raw               = COALESCE(EXCLUDED.raw, repositories.raw),
    db_updated_at     = NOW()`

// UpsertRepository inserts rec or refreshes the row with the same host and host id.
// raw is stored alongside as JSONB when non-nil.
func (s *Store) UpsertRepository(ctx context.Context, rec *model.RepositoryRecord, raw model.RawProject) error {
	var rawJSON []byte
	if raw != nil {
		var err error
		if rawJSON, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("encode raw project: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, upsertRepository,
		rec.Host, rec.HostID, rec.FullName, rec.Description, rec.Fork, rec.CreatedAt, rec.UpdatedAt,
		rec.Homepage, rec.Size, rec.WatchersCount, rec.ForksCount, rec.OpenIssuesCount, rec.NetworkCount,
		rec.SubscribersCount, rec.Language, rec.Archived, rec.Disabled, rec.OwnerLogin, rec.OwnerType,
		rec.LicenseKey, rec.LicenseName, rec.Timestamp, rawJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert repository %s/%s: %w", rec.Host, rec.FullName, err)
	}
	return nil
}

const selectRepository = `
SELECT host, host_id, full_name, description, fork, repo_created_at, repo_updated_at,
       homepage, size, watchers_count, forks_count, open_issues_count, network_count,
       subscribers_count, language, archived, disabled, owner_login, owner_type,
       license_key, license_name, captured_at
FROM repositories`

type repositoryRow struct {
	Host             string    `db:"host"`
	HostID           int64     `db:"host_id"`
	FullName         string    `db:"full_name"`
	Description      *string   `db:"description"`
	Fork             bool      `db:"fork"`
	RepoCreatedAt    time.Time `db:"repo_created_at"`
	RepoUpdatedAt    time.Time `db:"repo_updated_at"`
	Homepage         *string   `db:"homepage"`
	Size             int64     `db:"size"`
	WatchersCount    int32     `db:"watchers_count"`
	ForksCount       int32     `db:"forks_count"`
	OpenIssuesCount  int32     `db:"open_issues_count"`
	NetworkCount     int32     `db:"network_count"`
	SubscribersCount int32     `db:"subscribers_count"`
	Language         *string   `db:"language"`
	Archived         bool      `db:"archived"`
	Disabled         *bool     `db:"disabled"`
	OwnerLogin       string    `db:"owner_login"`
	OwnerType        string    `db:"owner_type"`
	LicenseKey       *string   `db:"license_key"`
	LicenseName      *string   `db:"license_name"`
	CapturedAt       time.Time `db:"captured_at"`
}

func (r repositoryRow) toModel() model.RepositoryRecord {
	return model.RepositoryRecord{
		Host:             r.Host,
		HostID:           r.HostID,
		FullName:         r.FullName,
		Description:      r.Description,
		Fork:             r.Fork,
		CreatedAt:        r.RepoCreatedAt,
		UpdatedAt:        r.RepoUpdatedAt,
		Homepage:         r.Homepage,
		Size:             int(r.Size),
		WatchersCount:    int(r.WatchersCount),
		ForksCount:       int(r.ForksCount),
		OpenIssuesCount:  int(r.OpenIssuesCount),
		NetworkCount:     int(r.NetworkCount),
		SubscribersCount: int(r.SubscribersCount),
		Language:         r.Language,
		Archived:         r.Archived,
		Disabled:         r.Disabled,
		OwnerLogin:       r.OwnerLogin,
		OwnerType:        r.OwnerType,
		LicenseKey:       r.LicenseKey,
		LicenseName:      r.LicenseName,
		Timestamp:        r.CapturedAt,
	}
}

// ListRepositories returns the most recently captured records, optionally limited to one host.
func (s *Store) ListRepositories(ctx context.Context, host string, limit int) ([]model.RepositoryRecord, error) {
	rows, err := s.db.Query(ctx, selectRepository+`
WHERE ($1 = '' OR host = $1)
ORDER BY captured_at DESC, id DESC
LIMIT $2`, host, limit)
	if err != nil {
		return nil, err
	}

	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[repositoryRow])
	if err != nil {
		return nil, err
	}

	records := make([]model.RepositoryRecord, len(found))
	for i, r := range found {
		records[i] = r.toModel()
	}
	return records, nil
}

// GetRepositoryByName looks a record up by host and full name.
func (s *Store) GetRepositoryByName(ctx context.Context, host, fullName string) (model.RepositoryRecord, error) {
	rows, err := s.db.Query(ctx, selectRepository+`
WHERE host = $1 AND full_name = $2
ORDER BY captured_at DESC
LIMIT 1`, host, fullName)
	if err != nil {
		return model.RepositoryRecord{}, err
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[repositoryRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RepositoryRecord{}, ErrNotFound
	} else if err != nil {
		return model.RepositoryRecord{}, err
	}
	return row.toModel(), nil
}

// GetCursor returns the stored value of a named cursor; ok is false when none was saved yet.
func (s *Store) GetCursor(ctx context.Context, name string) (value int64, ok bool, err error) {
	err = s.db.QueryRow(ctx, `SELECT value FROM crawl_cursors WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// SetCursor stores value under name.
func (s *Store) SetCursor(ctx context.Context, name string, value int64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO crawl_cursors (name, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, name, value)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", name, err)
	}
	return nil
}

// SaveBatch upserts repos and sets the named cursor in one transaction, so a cursor never
// moves past records that failed to land.
func (s *Store) SaveBatch(ctx context.Context, repos []model.FetchedRepository, cursorName string, cursorValue int64) error {
	return s.withTx(ctx, func(tx *Store) error {
		for _, r := range repos {
			if err := tx.UpsertRepository(ctx, r.Record, r.Raw); err != nil {
				return err
			}
		}
		return tx.SetCursor(ctx, cursorName, cursorValue)
	})
}

// ListCursors returns all stored cursors ordered by name.
func (s *Store) ListCursors(ctx context.Context) ([]model.CrawlCursor, error) {
	rows, err := s.db.Query(ctx, `SELECT name, value, updated_at FROM crawl_cursors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CrawlCursor, error) {
		var c model.CrawlCursor
		err := row.Scan(&c.Name, &c.Value, &c.UpdatedAt)
		return c, err
	})
}
