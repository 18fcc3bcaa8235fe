package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtm-datalayer/internal/model"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_Get(t *testing.T) {
	s, mock := newMockStore(t)
	installed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"shop", "access_token", "scope", "installed_at", "updated_at"}).
		AddRow("demo.myshopify.com", "shpat_abc", "write_themes", installed, installed)
	mock.ExpectQuery(regexp.QuoteMeta(selectCredential)).
		WithArgs("demo.myshopify.com").
		WillReturnRows(rows)

	cred, err := s.Get(context.Background(), "demo.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "shpat_abc", cred.AccessToken)
	assert.Equal(t, "write_themes", cred.Scope)
	assert.Equal(t, installed, cred.InstalledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectCredential)).
		WithArgs("gone.myshopify.com").
		WillReturnRows(sqlmock.NewRows([]string{"shop", "access_token", "scope", "installed_at", "updated_at"}))

	_, err := s.Get(context.Background(), "gone.myshopify.com")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostgres_GetQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectCredential)).
		WithArgs("demo.myshopify.com").
		WillReturnError(errors.New("connection reset"))

	_, err := s.Get(context.Background(), "demo.myshopify.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgres_SaveUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO shop_credentials")).
		WithArgs("demo.myshopify.com", "shpat_new", "write_themes,write_pixels", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Save(context.Background(), &Credential{
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_new",
		Scope:       "write_themes,write_pixels",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteCredential)).
		WithArgs("demo.myshopify.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), "demo.myshopify.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteCredential)).
		WithArgs("demo.myshopify.com").
		WillReturnError(errors.New("read-only transaction"))

	err := s.Delete(context.Background(), "demo.myshopify.com")
	assert.ErrorContains(t, err, "deleting credentials for demo.myshopify.com")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
