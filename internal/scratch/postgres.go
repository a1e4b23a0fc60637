package scratch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a scratch schema on a Postgres server. Each call
// creates a uniquely named schema and pins the connection's search path to
// it, so concurrent candidates never see each other's tables. Teardown
// drops the schema with everything in it.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres scratch: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres scratch: %w", err)
	}

	// One connection: SET search_path is per-session, and the pool must
	// not hand out sessions pointing at the default schema.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	name := "scratch_" + strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA "+quote(name)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create scratch schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SET search_path TO "+quote(name)); err != nil {
		db.ExecContext(ctx, "DROP SCHEMA "+quote(name)+" CASCADE") //nolint:errcheck
		db.Close()
		return nil, fmt.Errorf("set scratch search path: %w", err)
	}

	teardown := func() error {
		_, dropErr := db.Exec("DROP SCHEMA " + quote(name) + " CASCADE")
		closeErr := db.Close()
		if dropErr != nil {
			return fmt.Errorf("drop scratch schema %s: %w", name, dropErr)
		}
		return closeErr
	}

	return &DB{db: db, driver: "pgx", teardown: teardown}, nil
}
