// Package all registers every warehouse backend with the storage factory.
package all

import (
	_ "northwind/internal/storage/mssql"
	_ "northwind/internal/storage/postgres"
	_ "northwind/internal/storage/sqlite"
)
