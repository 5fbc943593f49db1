// Package all registers every relational backend with the storage factory.
// Binaries import it for side effects; the job file picks the kind.
package all

import (
	_ "itemexport/internal/storage/mssql"
	_ "itemexport/internal/storage/mysql"
	_ "itemexport/internal/storage/postgres"
	_ "itemexport/internal/storage/sqlite"
)
