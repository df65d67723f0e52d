package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/snarg/pi/internal/model"
)

const schema = `
CREATE TABLE record (
	phone TEXT PRIMARY KEY,
	ip_addr TEXT NOT NULL,
	region TEXT NOT NULL,
	guid TEXT NOT NULL,
	description TEXT NOT NULL,
	date_created INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	cooldown_expiry INTEGER,
	tasked_time INTEGER
)`

// SQLiteStore is the default RecordStore backend: an in-process,
// in-memory modernc.org/sqlite database, one table, one statement per
// operation. Every time comparison takes now as a bound parameter rather
// than relying on the database's own clock, so tests can drive it with a
// fake Clock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a fresh in-memory database and creates the schema.
func NewSQLiteStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The in-memory database is only ever visible to one connection; cap
	// the pool at one so a second connection never sees an empty database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, now int64, phone, ipAddr, region, guid, desc string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record (phone, ip_addr, region, guid, date_created, last_active, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, phone, ipAddr, region, guid, now, now, desc)
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, phone string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT phone, ip_addr, region, guid, description, last_active, date_created, cooldown_expiry, tasked_time
		FROM record
		WHERE phone = ?
	`, phone)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, now int64, phone string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE record SET last_active = ? WHERE phone = ?
	`, now, phone)
	if err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIfNotInCooldown(ctx context.Context, phone string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM record WHERE phone = ? AND cooldown_expiry IS NULL
	`, phone)
	if err != nil {
		return 0, fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete record: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now, activeTime int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM record
		WHERE cooldown_expiry IS NULL
		AND (last_active + ?) <= ?
	`, activeTime, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) DeleteFinishedCooldown(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM record WHERE cooldown_expiry <= ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete finished cooldown: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete finished cooldown: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) SelectEligible(ctx context.Context, now, activeTime int64) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phone, ip_addr, region, guid, description, last_active, date_created, cooldown_expiry, tasked_time
		FROM record
		WHERE cooldown_expiry IS NULL
		AND (last_active + ?) >= ?
		ORDER BY date_created DESC, phone ASC
	`, activeTime, now)
	if err != nil {
		return nil, fmt.Errorf("select eligible records: %w", err)
	}
	defer rows.Close()

	out := []*model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("select eligible records: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select eligible records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkTasked(ctx context.Context, now int64, phones []string) error {
	stmt, err := s.db.PrepareContext(ctx, `UPDATE record SET tasked_time = ? WHERE phone = ?`)
	if err != nil {
		return fmt.Errorf("mark tasked: %w", err)
	}
	defer stmt.Close()

	for _, phone := range phones {
		if _, err := stmt.ExecContext(ctx, now, phone); err != nil {
			return fmt.Errorf("mark tasked: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SendAllTaskedToCooldown(ctx context.Context, now, cooldownTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE record SET cooldown_expiry = ? WHERE tasked_time IS NOT NULL
	`, now+cooldownTime)
	if err != nil {
		return fmt.Errorf("send tasked to cooldown: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseRecentFromCooldown(ctx context.Context, now, activeTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE record
		SET cooldown_expiry = NULL
		WHERE cooldown_expiry IS NOT NULL
		AND last_active + ? > ?
	`, activeTime, now)
	if err != nil {
		return fmt.Errorf("release recent from cooldown: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM record`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	r := &model.Record{}
	if err := row.Scan(
		&r.Phone, &r.IPAddr, &r.Region, &r.GUID, &r.Description,
		&r.LastActive, &r.DateCreated, &r.CooldownExpiry, &r.TaskedTime,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func isUniqueConstraint(err error) bool {
	// modernc.org/sqlite wraps the SQLite result code in its error string;
	// there is no typed sentinel exported for it, so match on the phrase
	// SQLite itself uses for a primary-key collision.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
