package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// AssetWriter persists extracted asset images into a job-local directory.
type AssetWriter struct {
	dir string
}

// NewAssetWriter creates dir if needed and writes assets into it.
func NewAssetWriter(dir string) (*AssetWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError("failed to create asset directory", err)
	}
	return &AssetWriter{dir: dir}, nil
}

// Dir returns the directory assets are written to.
func (w *AssetWriter) Dir() string {
	return w.dir
}

// WritePNG encodes img as PNG under filename and returns its path.
func (w *AssetWriter) WritePNG(filename string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", domain.ConversionError(fmt.Sprintf("failed to encode %s", filename), err)
	}

	path := filepath.Join(w.dir, filename)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", domain.IOError(fmt.Sprintf("failed to write %s", filename), err)
	}
	return path, nil
}

// toRGBA converts img to an RGBA buffer anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// PixelHash is the hex sha256 of the decoded RGBA pixels and their dimensions,
// so the same picture embedded twice hashes identically regardless of encoding.
func PixelHash(img image.Image) string {
	rgba := toRGBA(img)
	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(rgba.Rect.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(rgba.Rect.Dy()))
	h.Write(dims[:])
	for y := 0; y < rgba.Rect.Dy(); y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+rgba.Rect.Dx()*4]
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// crop returns the sub-image of src within r, clipped to src's bounds.
func crop(src *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		return nil
	}
	return toRGBA(src.SubImage(r))
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
