// Package database connects the site registry to a SQL backend.
//
// # Supported Backends
//
//   - PostgreSQL: production backend using a pgx connection pool
//   - SQLite: single-node backend using modernc.org/sqlite
//
// # Usage
//
//	cfg := database.Config{
//	    Type:   "sqlite",
//	    DSN:    "sitehost.db",
//	    Tables: sitehost.Tables{Sites: "sitehost_sites"},
//	}
//
//	db, err := database.Open(ctx, cfg, true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	repo := db.GetRepo()
//
// Open runs migrations when asked and always validates the schema, so a
// hand-managed table with a wrong column type fails at startup rather than
// on the first request.
package database
