// Package all registers every storage backend with the storage factory.
// The pipeline config selects one at runtime, so the binary links all of them.
package all

import (
	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" database/sql driver

	_ "pulse/internal/storage/mssql"
	_ "pulse/internal/storage/postgres"
	_ "pulse/internal/storage/sqlite"
)
