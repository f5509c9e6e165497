// Package migrations embeds the SQL schema migrations so the binary does
// not depend on files at runtime. Importing it registers the files with
// the database package.
package migrations

import (
	"embed"

	"github.com/DylanVanAssche/fwupd/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
