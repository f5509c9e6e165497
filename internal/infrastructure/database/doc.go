// Package database provides the SQLite store behind the device history.
//
// Open configures the connection (WAL, busy timeout, foreign keys) and
// Migrate applies the embedded schema migrations. Migrations are
// additive: new columns are nullable or have a default, and every
// .up.sql has a matching .down.sql.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
