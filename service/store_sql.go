package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/model"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE of a unique or primary key violation.
const pgUniqueViolation = "23505"

const contractsSchema = `CREATE TABLE IF NOT EXISTS contracts (
	id             TEXT PRIMARY KEY,
	created_at     BIGINT NOT NULL,
	status         TEXT NOT NULL,
	student_token  TEXT NOT NULL UNIQUE,
	employer_token TEXT NOT NULL UNIQUE,
	student_data   TEXT,
	employer_data  TEXT
)`

const contractColumns = `id, created_at, status, student_token, employer_token, student_data, employer_data`

// SQLStore keeps contracts in one table. Tokens are unique columns of the
// contract row, so deleting the row removes both tokens.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ ContractRepository = (*SQLStore)(nil)

// OpenSQLStore opens the database for the sqlite or postgres driver and
// creates the contracts table if needed.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	driverName := "sqlite"
	if driver == config.DriverPostgres {
		driverName = "pgx"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	store := NewSQLStore(db, driver)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("contract store initialized", "driver", driver)
	return store, nil
}

// NewSQLStore wraps an open database. dialect is config.DriverSQLite or config.DriverPostgres.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, contractsSchema); err != nil {
		return fmt.Errorf("failed to create contracts table: %w", err)
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeData(data map[string]any) (sql.NullString, error) {
	if data == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode submission: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeData(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var data map[string]any
	if err := unmarshalJSON([]byte(ns.String), &data); err != nil {
		return nil, fmt.Errorf("failed to decode submission: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*model.Contract, error) {
	var (
		c                 model.Contract
		createdAt         int64
		student, employer sql.NullString
	)
	if err := row.Scan(&c.ID, &createdAt, &c.Status, &c.Tokens.Student, &c.Tokens.Employer, &student, &employer); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()

	var err error
	if c.Student, err = decodeData(student); err != nil {
		return nil, err
	}
	if c.Employer, err = decodeData(employer); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLStore) Create(ctx context.Context, c *model.Contract) error {
	student, err := encodeData(c.Student)
	if err != nil {
		return err
	}
	employer, err := encodeData(c.Employer)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO contracts (`+contractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.CreatedAt.UnixMilli(), c.Status, c.Tokens.Student, c.Tokens.Employer, student, employer,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure. A clash on a token column counts as a duplicate too.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contract: %w", err)
	}
	return c, nil
}

func (s *SQLStore) GetByToken(ctx context.Context, token string) (*model.Contract, model.Role, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+contractColumns+` FROM contracts WHERE student_token = ? OR employer_token = ?`),
		token, token,
	)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read contract: %w", err)
	}

	role, ok := c.RoleForToken(token)
	if !ok {
		return nil, "", ErrNotFound
	}
	return c, role, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*model.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	result := []*model.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read contract: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return result, nil
}

func (s *SQLStore) Update(ctx context.Context, c *model.Contract) error {
	student, err := encodeData(c.Student)
	if err != nil {
		return err
	}
	employer, err := encodeData(c.Employer)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE contracts SET status = ?, student_data = ?, employer_data = ? WHERE id = ?`),
		c.Status, student, employer, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return expectOneRow(res)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM contracts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
