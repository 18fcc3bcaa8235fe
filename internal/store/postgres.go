package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	selectCredential = `SELECT shop, access_token, scope, installed_at, updated_at FROM shop_credentials WHERE shop = $1`

	upsertCredential = `
		INSERT INTO shop_credentials (shop, access_token, scope, installed_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (shop) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			scope = EXCLUDED.scope,
			updated_at = EXCLUDED.updated_at`

	deleteCredential = `DELETE FROM shop_credentials WHERE shop = $1`
)

// Postgres stores credentials in the shop_credentials table.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects to dsn through the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, shop string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx, selectCredential, shop).
		Scan(&c.Shop, &c.AccessToken, &c.Scope, &c.InstalledAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(shop)
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials for %s: %w", shop, err)
	}
	return &c, nil
}

// Save inserts or replaces the token of cred.Shop. The original install
// time is kept on update.
func (s *Postgres) Save(ctx context.Context, cred *Credential) error {
	if _, err := s.db.ExecContext(ctx, upsertCredential, cred.Shop, cred.AccessToken, cred.Scope, s.now()); err != nil {
		return fmt.Errorf("saving credentials for %s: %w", cred.Shop, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, shop string) error {
	if _, err := s.db.ExecContext(ctx, deleteCredential, shop); err != nil {
		return fmt.Errorf("deleting credentials for %s: %w", shop, err)
	}
	return nil
}
