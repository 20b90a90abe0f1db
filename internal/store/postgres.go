package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/certsentry/certsentry/internal/cert"
)

// Postgres is a RecordStore on a certificates table. Rotation history falls
// out of the upsert strategy: a matching fingerprint updates the existing
// row in place, a new fingerprint inserts a fresh row and leaves the old one
// behind as history.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

const (
	updateRecordSQL = `
		UPDATE ssl_certificates
		SET status = $1, last_checked = $2, reason = $3
		WHERE target_id = $4 AND fingerprint = $5`

	insertRecordSQL = `
		INSERT INTO ssl_certificates
			(target_id, origin, issuer, subject, serial_number, fingerprint,
			 not_before, not_after, status, last_checked, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	latestRecordSQL = `
		SELECT target_id, origin, issuer, subject, serial_number, fingerprint,
		       not_before, not_after, status, last_checked, reason
		FROM ssl_certificates
		WHERE target_id = $1
		ORDER BY last_checked DESC
		LIMIT 1`

	listRecordsSQL = `
		SELECT DISTINCT ON (target_id)
		       target_id, origin, issuer, subject, serial_number, fingerprint,
		       not_before, not_after, status, last_checked, reason
		FROM ssl_certificates
		ORDER BY target_id, last_checked DESC`
)

func (p *Postgres) Upsert(ctx context.Context, rec cert.Record) error {
	res, err := p.db.ExecContext(ctx, updateRecordSQL,
		string(rec.Status), rec.LastChecked, rec.Reason, rec.TargetID, rec.Fingerprint)
	if err != nil {
		return fmt.Errorf("store: update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = p.db.ExecContext(ctx, insertRecordSQL,
		rec.TargetID, rec.Origin, rec.Issuer, rec.Subject, rec.SerialNumber,
		rec.Fingerprint, rec.NotBefore, rec.NotAfter, string(rec.Status),
		rec.LastChecked, rec.Reason)
	if err != nil {
		return fmt.Errorf("store: insert record: %w", err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context, targetID uuid.UUID) (cert.Record, bool, error) {
	rec, err := scanRecord(p.db.QueryRowContext(ctx, latestRecordSQL, targetID))
	if errors.Is(err, sql.ErrNoRows) {
		return cert.Record{}, false, nil
	}
	if err != nil {
		return cert.Record{}, false, fmt.Errorf("store: latest record: %w", err)
	}
	return rec, true, nil
}

func (p *Postgres) List(ctx context.Context) ([]cert.Record, error) {
	rows, err := p.db.QueryContext(ctx, listRecordsSQL)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []cert.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (cert.Record, error) {
	var rec cert.Record
	var status string
	err := s.Scan(&rec.TargetID, &rec.Origin, &rec.Issuer, &rec.Subject,
		&rec.SerialNumber, &rec.Fingerprint, &rec.NotBefore, &rec.NotAfter,
		&status, &rec.LastChecked, &rec.Reason)
	if err != nil {
		return cert.Record{}, err
	}
	rec.Status = cert.Status(status)
	return rec, nil
}
