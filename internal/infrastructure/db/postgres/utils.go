package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	driverName     = "postgres"
	connectTimeout = 5 * time.Second
	// invalid_catalog_name, returned when the database in the DSN does not exist
	errCodeUnknownDatabase = "3D000"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// OpenDb connects to the database in dsn. If autoCreate is set and the database is missing,
// it's created first.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		var pqErr *pq.Error
		if !autoCreate || !errors.As(err, &pqErr) || pqErr.Code != errCodeUnknownDatabase {
			return nil, fmt.Errorf("unable to establish connection with db: %v", err)
		}

		log.Info("postgres database does not exist, creating it...")
		if err := createDatabase(ctx, dsn); err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("unable to establish connection with db: %v", err)
		}
	}

	return db, nil
}

// createDatabase connects to the server without selecting a database and creates the one
// named in the dsn path. Only URL formatted DSNs are supported.
func createDatabase(ctx context.Context, dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return fmt.Errorf("cannot auto-create database unless the DSN uses URL format")
	}

	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	dbName := strings.TrimPrefix(parsedURL.Path, "/")
	if dbName == "" {
		return fmt.Errorf("cannot auto-create when database name is empty")
	}
	parsedURL.Path = ""

	rootDB, err := sql.Open(driverName, parsedURL.String())
	if err != nil {
		return err
	}
	// nolint:errcheck
	defer rootDB.Close()

	_, err = rootDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName))
	return err
}

func configDb(config ...interface{}) (*sql.DB, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid config: expected *sql.DB but got %T", config[0])
	}
	return db, nil
}

// limitArg turns a non positive limit into NULL, which postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
