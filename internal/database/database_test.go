package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/config"
)

func TestBuildPostgresDSN(t *testing.T) {
	full := config.DatabaseConfig{Host: "db", Port: "5432", User: "formgate", Password: "p@ss/word", Name: "forms", SSLMode: "disable"}

	tests := []struct {
		name    string
		mutate  func(c *config.DatabaseConfig)
		want    string
		wantErr string
	}{
		{
			name: "password is escaped",
			want: "postgres://formgate:p%40ss%2Fword@db:5432/forms?application_name=formgate&connect_timeout=5&sslmode=disable",
		},
		{
			name:   "no password no sslmode",
			mutate: func(c *config.DatabaseConfig) { c.Password, c.SSLMode = "", "" },
			want:   "postgres://formgate@db:5432/forms?application_name=formgate&connect_timeout=5",
		},
		{
			name:    "missing keys are listed",
			mutate:  func(c *config.DatabaseConfig) { c.Host, c.Name = "", "" },
			wantErr: "incomplete database config: missing host, name",
		},
		{
			name:    "empty config",
			mutate:  func(c *config.DatabaseConfig) { *c = config.DatabaseConfig{} },
			wantErr: "missing host, port, user, name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := full
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			got, err := BuildPostgresDSN(c)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrIncompleteConfig)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stubOpen(t *testing.T, db *sql.DB, err error) {
	t.Helper()
	orig := sqlOpen
	sqlOpen = func(string, string) (*sql.DB, error) { return db, err }
	t.Cleanup(func() { sqlOpen = orig })
}

func TestNewPostgres(t *testing.T) {
	conf := config.DatabaseConfig{
		Host: "localhost", Port: "5432", User: "formgate", Name: "forms",
		MaxOpenConns: 4, MaxIdleConns: 10, ConnMaxLifetimeSec: 300,
	}

	t.Run("applies pool limits", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		stubOpen(t, db, nil)
		mock.ExpectPing()

		got, err := NewPostgres(context.Background(), conf)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Stats().MaxOpenConnections)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open error", func(t *testing.T) {
		stubOpen(t, nil, errors.New("open error"))

		got, err := NewPostgres(context.Background(), conf)
		assert.EqualError(t, err, "sql open: open error")
		assert.Nil(t, got)
	})

	t.Run("ping error closes the pool", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		stubOpen(t, db, nil)
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))
		mock.ExpectClose()

		got, err := NewPostgres(context.Background(), conf)
		assert.EqualError(t, err, "db ping: ping failed")
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("incomplete config never opens", func(t *testing.T) {
		stubOpen(t, nil, errors.New("must not be called"))

		_, err := NewPostgres(context.Background(), config.DatabaseConfig{})
		assert.ErrorIs(t, err, ErrIncompleteConfig)
	})
}

func TestPing(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.EqualError(t, Ping(context.Background(), db), "down")
	assert.NoError(t, mock.ExpectationsWereMet())
}
