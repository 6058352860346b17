//go:build !test

// Production binaries register every SQL backend through this file; go test
// runs built with -tags test import only the drivers their packages need.
package main

import "chicha-spectrum-seed/pkg/database/drivers"

func init() {
	drivers.Ready()
}
