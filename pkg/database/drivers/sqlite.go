//go:build (netbsd && amd64) || ios || freebsd || darwin || (linux && riscv64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && arm64) || (linux && 386) || android || (openbsd && amd64) || (openbsd && arm64) || (windows && amd64) || (windows && arm64)

package drivers

import (
	// modernc registers "sqlite" itself; it is CGO-free, so the seeder can
	// write into the map server's database file on any supported platform.
	_ "modernc.org/sqlite"
)

func init() { register("sqlite") }
