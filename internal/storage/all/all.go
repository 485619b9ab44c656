// Package all registers every run-history backend and the SQL Server driver.
// Import it for side effects from the command that opens a history store.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "github.com/jackszb/sukka-surge/internal/storage/mssql"
	_ "github.com/jackszb/sukka-surge/internal/storage/postgres"
	_ "github.com/jackszb/sukka-surge/internal/storage/sqlite"
)
