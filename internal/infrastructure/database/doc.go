// Package database provides SQLite storage for Gray Logic Comm.
//
// The comm event log (internal/events) is the main user. This package owns
// the connection (WAL mode, busy timeout, single-connection pool) and the
// versioned schema migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or have defaults, and
// every .up.sql has a matching .down.sql.
package database
