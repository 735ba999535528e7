// Package all links every storage backend into a binary.
package all

import (
	_ "ctingest/internal/storage/mssql"
	_ "ctingest/internal/storage/postgres"
	_ "ctingest/internal/storage/snowflake"
	_ "ctingest/internal/storage/sqlite"
)
