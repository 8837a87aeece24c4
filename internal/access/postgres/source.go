// Package postgres loads access rules from a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS access_rules (
	position       INTEGER PRIMARY KEY,
	path           TEXT    NOT NULL,
	is_file        BOOLEAN NOT NULL DEFAULT false,
	role           TEXT,
	can_read       BOOLEAN,
	can_write      BOOLEAN,
	write_contents BOOLEAN,
	can_copy       BOOLEAN,
	can_download   BOOLEAN,
	can_upload     BOOLEAN,
	message        TEXT
)`

// Source reads and writes the ordered rule list.
type Source struct {
	db *sql.DB
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Source, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Source{db: db}, nil
}

// New wraps an existing connection.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// Migrate creates the rules table when it does not exist.
func (s *Source) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create access_rules: %w", err)
	}
	return nil
}

// Load returns the rules ordered by position. An empty table yields an
// empty, non-nil list, which denies everything.
func (s *Source) Load(ctx context.Context) ([]access.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, is_file, role, can_read, can_write, write_contents,
		        can_copy, can_download, can_upload, message
		 FROM access_rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query access_rules: %w", err)
	}
	defer rows.Close()

	rules := []access.Rule{}
	for rows.Next() {
		var row ruleRow
		if err := rows.Scan(&row.path, &row.isFile, &row.role, &row.read, &row.write,
			&row.writeContents, &row.copy, &row.download, &row.upload, &row.message); err != nil {
			return nil, fmt.Errorf("scan access rule: %w", err)
		}
		rules = append(rules, row.rule())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access_rules: %w", err)
	}

	logging.Info("access rules loaded from database", zap.Int("count", len(rules)))
	return rules, nil
}

// Replace atomically swaps the stored rule list for rules.
func (s *Source) Replace(ctx context.Context, rules []access.Rule) error {
	if err := access.Validate(rules); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM access_rules`); err != nil {
		return fmt.Errorf("clear access_rules: %w", err)
	}
	for i, r := range rules {
		args := ruleArgs(i, r)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO access_rules (position, path, is_file, role, can_read, can_write,
			   write_contents, can_copy, can_download, can_upload, message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, args...); err != nil {
			return fmt.Errorf("insert rule %d: %w", i, err)
		}
	}
	return tx.Commit()
}

type ruleRow struct {
	path          string
	isFile        bool
	role          sql.NullString
	read          sql.NullBool
	write         sql.NullBool
	writeContents sql.NullBool
	copy          sql.NullBool
	download      sql.NullBool
	upload        sql.NullBool
	message       sql.NullString
}

func (r ruleRow) rule() access.Rule {
	return access.Rule{
		Path:          r.path,
		IsFile:        r.isFile,
		Role:          r.role.String,
		Read:          access.GrantFromNullBool(r.read),
		Write:         access.GrantFromNullBool(r.write),
		WriteContents: access.GrantFromNullBool(r.writeContents),
		Copy:          access.GrantFromNullBool(r.copy),
		Download:      access.GrantFromNullBool(r.download),
		Upload:        access.GrantFromNullBool(r.upload),
		Message:       r.message.String,
	}
}

func ruleArgs(position int, r access.Rule) []any {
	role := sql.NullString{String: r.Role, Valid: r.Role != ""}
	message := sql.NullString{String: r.Message, Valid: r.Message != ""}
	return []any{
		position, r.Path, r.IsFile, role,
		r.Read.NullBool(), r.Write.NullBool(), r.WriteContents.NullBool(),
		r.Copy.NullBool(), r.Download.NullBool(), r.Upload.NullBool(),
		message,
	}
}
