//go:build dragonfly || ios || freebsd || darwin || (linux && ppc64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && mips64) || (linux && mips64le) || (linux && arm64) || android || (windows && amd64) || (windows && arm64)

package drivers

import (
	"database/sql"
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// init wires up the "chai" driver name. Chai stores data in SQLite-compatible
// files, so the modernc backend serves it too.
func init() {
	sql.Register("chai", newChaiDriver())
	register("chai")
}

func newChaiDriver() driver.Driver {
	return &sqlite.Driver{}
}
