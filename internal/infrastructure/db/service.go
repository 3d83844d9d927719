package db

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	badgerdb "github.com/arkade-os/escrowd/internal/infrastructure/db/badger"
	pgdb "github.com/arkade-os/escrowd/internal/infrastructure/db/postgres"
	sqlitedb "github.com/arkade-os/escrowd/internal/infrastructure/db/sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	claimStoreTypes = map[string]func(...interface{}) (domain.ClaimRepository, error){
		"badger":   badgerdb.NewClaimRepository,
		"sqlite":   sqlitedb.NewClaimRepository,
		"postgres": pgdb.NewClaimRepository,
	}
	txStoreTypes = map[string]func(...interface{}) (domain.TransactionRepository, error){
		"badger":   badgerdb.NewTransactionRepository,
		"sqlite":   sqlitedb.NewTransactionRepository,
		"postgres": pgdb.NewTransactionRepository,
	}
	accountStoreTypes = map[string]func(...interface{}) (domain.AccountRepository, error){
		"badger":   badgerdb.NewAccountRepository,
		"sqlite":   sqlitedb.NewAccountRepository,
		"postgres": pgdb.NewAccountRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	claimStore   domain.ClaimRepository
	txStore      domain.TransactionRepository
	accountStore domain.AccountRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	claimStoreFactory, ok := claimStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	txStoreFactory := txStoreTypes[config.DataStoreType]
	accountStoreFactory := accountStoreTypes[config.DataStoreType]

	var (
		claimStore   domain.ClaimRepository
		txStore      domain.TransactionRepository
		accountStore domain.AccountRepository
		err          error
	)

	// badger stores live in separate dirs under the same base dir, sql ones share the handle.
	storeConfig := config.DataStoreConfig
	switch config.DataStoreType {
	case "postgres":
		if len(config.DataStoreConfig) != 2 {
			return nil, fmt.Errorf("invalid data store config for postgres")
		}
		dsn, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid DSN for postgres")
		}
		autoCreate, ok := config.DataStoreConfig[1].(bool)
		if !ok {
			return nil, fmt.Errorf("invalid autocreate flag for postgres")
		}

		db, err := pgdb.OpenDb(dsn, autoCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres db: %s", err)
		}
		driver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}
		if err := runMigrations(pgMigration, "postgres/migration", "postgres", driver); err != nil {
			return nil, err
		}
		storeConfig = []interface{}{db}

	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}
		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}
		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}
		if err := runMigrations(migrations, "sqlite/migration", "escrowdb", driver); err != nil {
			return nil, err
		}
		storeConfig = []interface{}{db}
	}

	claimStore, err = claimStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open claim store: %s", err)
	}
	txStore, err = txStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %s", err)
	}
	accountStore, err = accountStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %s", err)
	}

	return &service{
		claimStore:   claimStore,
		txStore:      txStore,
		accountStore: accountStore,
	}, nil
}

func (s *service) Claims() domain.ClaimRepository {
	return s.claimStore
}

func (s *service) Transactions() domain.TransactionRepository {
	return s.txStore
}

func (s *service) Accounts() domain.AccountRepository {
	return s.accountStore
}

func (s *service) Close() {
	s.claimStore.Close()
	s.txStore.Close()
	s.accountStore.Close()
}

func runMigrations(fs embed.FS, dir, dbName string, driver database.Driver) error {
	source, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to embed migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %s", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %s", err)
	}
	log.Debugf("db schema at version %d (dirty: %t)", version, dirty)
	return nil
}
