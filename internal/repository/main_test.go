package repository

import (
	"regexp"
	"testing"

	"quizthread/internal/config"
	"quizthread/internal/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var nonWord = regexp.MustCompile(`[^A-Za-z0-9]+`)

// setupSQLite opens a private in-memory database per test.
func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + nonWord.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared"
	db, err := database.Connect(&config.Config{Env: "test", DBDriver: "sqlite", DBDSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}
