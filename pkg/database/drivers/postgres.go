package drivers

import (
	// stdlib registers the "pgx" name used by -db-type pgx.
	_ "github.com/jackc/pgx/v5/stdlib"
)

func init() { register("pgx") }
