// Package maplink builds the map URL printed after seeding and can render it
// as a QR code, so the seeded location can be opened from a phone.
package maplink

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// URL returns http://<host>/#<zoom>/<lat>/<lon>, the hash route the map
// frontend reads on load. Coordinates keep their shortest exact form.
func URL(host string, zoom int, lat, lon float64) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s/#%d/%s/%s", host, zoom,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64))
}

// Options controls QR rendering.
type Options struct {
	SizePx int        // output edge length, default 512
	Fg     color.RGBA // module colour, default black
	Bg     color.RGBA // background incl. quiet zone, default radiation yellow
}

// EncodePNG writes link as a QR PNG to w. Recovery level is Medium: links are
// short and there is no centre logo to cover modules.
func EncodePNG(w io.Writer, link string, opt Options) error {
	if opt.SizePx <= 0 {
		opt.SizePx = 512
	}
	if (opt.Fg == color.RGBA{}) {
		opt.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (opt.Bg == color.RGBA{}) {
		opt.Bg = color.RGBA{0xE6, 0xC1, 0x37, 0xFF}
	}

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("build qr: %w", err)
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg
	return qr.Write(opt.SizePx, w)
}

// WritePNGFile renders link into path, replacing any existing file.
func WritePNGFile(path, link string, opt Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err := EncodePNG(bw, link, opt); err != nil {
		return err
	}
	return bw.Flush()
}
