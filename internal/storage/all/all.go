// Package all links every storage backend into the binary.
package all

import (
	_ "csvload/internal/storage/memory"
	_ "csvload/internal/storage/mongo"
	_ "csvload/internal/storage/mssql"
	_ "csvload/internal/storage/mysql"
	_ "csvload/internal/storage/postgres"
	_ "csvload/internal/storage/sqlite"
)
