// Package drivers groups database/sql driver registrations so heavy
// dependencies stay out of lightweight go test/go vet runs unless a
// binary explicitly imports this package.
package drivers

// Ready is a no-op helper used by main packages to make the import explicit.
func Ready() {}

// Names lists the driver names a binary built from this package can open.
// DuckDB is only present with the duckdb build tag.
func Names() []string {
	return registered
}

var registered []string

func register(name string) {
	registered = append(registered, name)
}
