package main

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chicha-spectrum-seed/pkg/config"

	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("chicha-spectrum-seed/pkg/logger.runloop"))
}

func parseArgs(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(args, func(string) string { return "" }, io.Discard)
	require.NoError(t, err)
	return cfg
}

func TestRunPrintsProgressAndWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	qrPath := filepath.Join(dir, "seed.png")
	metricsPath := filepath.Join(dir, "seed.prom")
	cfg := parseArgs(t,
		"-db-path", filepath.Join(dir, "database-8765.sqlite"),
		"-qr-out", qrPath,
		"-metrics-out", metricsPath,
	)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))

	text := out.String()
	for _, want := range []string{
		"Location: 34.4883891, 136.1659156\n",
		"Total counts: 11550\n",
		"Count rate: 38.50 CPS\n",
		"Dose rate: ",
		"Cs-137 peak: channel 226 (662.1 keV)\n",
		"Test spectrum successfully inserted!\n",
		"QR code: " + qrPath + "\n",
		"Open map at: http://localhost:8765/#15/34.4883891/136.1659156\n",
	} {
		assert.Contains(t, text, want)
	}

	raw, err := os.ReadFile(qrPath)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `chicha_seed_markers_inserted{driver="sqlite",track_id="TEST_MITSUE_ONSEN"} 21`)
}

func TestRunUsesMapHostAndZoom(t *testing.T) {
	cfg := parseArgs(t,
		"-db-path", filepath.Join(t.TempDir(), "seed.sqlite"),
		"-map-host", "maps.example.org",
		"-map-zoom", "12",
		"-lat", "44", "-lon", "42.5",
	)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), "Open map at: http://maps.example.org/#12/44/42.5\n")
}

func TestRunFailsWhenDatabaseCannotOpen(t *testing.T) {
	cfg := parseArgs(t, "-db-path", filepath.Join(t.TempDir(), "missing", "dir", "db.sqlite"))

	var out bytes.Buffer
	err := run(context.Background(), cfg, &out)
	require.Error(t, err)

	var aborted *runAborted
	assert.False(t, errors.As(err, &aborted), "open failures are reported by main")
	assert.NotContains(t, out.String(), "successfully inserted")
}

func TestRunWithoutSchemaAbortsSeeding(t *testing.T) {
	cfg := parseArgs(t,
		"-db-path", filepath.Join(t.TempDir(), "empty.sqlite"),
		"-init-schema=false",
	)

	var out bytes.Buffer
	err := run(context.Background(), cfg, &out)
	require.Error(t, err)

	var aborted *runAborted
	assert.True(t, errors.As(err, &aborted), "seeding failures are already in the run log")
	assert.NotContains(t, out.String(), "Open map at:")
}
