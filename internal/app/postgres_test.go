package app

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guttosm/candledesk/config"
)

var testPG = config.Config{Postgres: config.PostgresConfig{User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}}

func TestInitPostgres_OpenError(t *testing.T) {
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("open failed")
	}
	t.Cleanup(func() { sqlOpener = old })

	if _, err := InitPostgres(testPG); err == nil {
		t.Fatalf("expected error from InitPostgres when open fails")
	}
}

func TestInitPostgres_PingError(t *testing.T) {
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))
		return db, nil
	}
	t.Cleanup(func() { sqlOpener = old })

	if _, err := InitPostgres(testPG); err == nil {
		t.Fatalf("expected ping error from InitPostgres")
	}
}

func TestInitPostgres_MigrateError(t *testing.T) {
	oldOpen, oldMigrate := sqlOpener, migrate
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		if dataSourceName != "postgres://u:p@h:5432/d?sslmode=disable" {
			t.Fatalf("unexpected dsn %q", dataSourceName)
		}
		db, _, err := sqlmock.New()
		return db, err
	}
	migrate = func(*sql.DB) error { return errors.New("bad migration") }
	t.Cleanup(func() { sqlOpener, migrate = oldOpen, oldMigrate })

	if _, err := InitPostgres(testPG); err == nil {
		t.Fatalf("expected migrate error from InitPostgres")
	}
}

func TestInitPostgres_OK(t *testing.T) {
	oldOpen, oldMigrate := sqlOpener, migrate
	var migrated bool
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		db, _, err := sqlmock.New()
		return db, err
	}
	migrate = func(*sql.DB) error { migrated = true; return nil }
	t.Cleanup(func() { sqlOpener, migrate = oldOpen, oldMigrate })

	db, err := InitPostgres(testPG)
	if err != nil || db == nil {
		t.Fatalf("InitPostgres: %v", err)
	}
	_ = db.Close()
	if !migrated {
		t.Fatalf("migrations not applied")
	}
}
