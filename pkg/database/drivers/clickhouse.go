package drivers

import (
	// clickhouse-go registers "clickhouse" and accepts clickhouse:// DSNs as
	// built by database.ClickHouseDSNFromConfig.
	_ "github.com/ClickHouse/clickhouse-go/v2"
)

func init() { register("clickhouse") }
