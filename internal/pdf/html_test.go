package pdf

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

func TestParsePageHTML_GroupsLinesIntoBlocks(t *testing.T) {
	markup := `<div id="page0" style="width:612.0pt;height:792.0pt">
<p style="top:72.0pt;left:72.0pt;line-height:12.0pt"><span style="font-family:Times;font-size:12.0pt">First line of</span></p>
<p style="top:84.0pt;left:72.0pt;line-height:12.0pt"><span style="font-family:Times;font-size:12.0pt">the first block.</span></p>
<p style="top:140.0pt;left:72.0pt;line-height:12.0pt"><span style="font-family:Times;font-size:12.0pt">Second block.</span></p>
<p style="top:200.0pt;left:72.0pt;line-height:12.0pt"><span style="font-size:12.0pt">   </span></p>
</div>`

	layout, err := parsePageHTML(strings.NewReader(markup))
	require.NoError(t, err)
	require.Len(t, layout.blocks, 2)

	assert.Equal(t, []string{"First line of", "the first block."}, layout.blocks[0].Lines)
	assert.InDelta(t, 72.0, layout.blocks[0].BBox.Y0, 1e-9)
	assert.InDelta(t, 96.0, layout.blocks[0].BBox.Y1, 1e-9)
	assert.Equal(t, []string{"Second block."}, layout.blocks[1].Lines)
}

func TestParsePageHTML_DecodesDataURIImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	markup := `<div><img style="position:absolute;top:100pt;left:50pt;width:200pt;height:150pt" src="` + src + `"/>` +
		`<img src="http://example.com/remote.png"/></div>`

	layout, err := parsePageHTML(strings.NewReader(markup))
	require.NoError(t, err)
	require.Len(t, layout.images, 1)

	got := layout.images[0]
	assert.Equal(t, domain.BBox{X0: 50, Y0: 100, X1: 250, Y1: 250}, got.BBox)
	assert.Equal(t, 4, got.Image.Bounds().Dx())
	assert.Equal(t, 3, got.Image.Bounds().Dy())
}

func TestParseStyle(t *testing.T) {
	style := parseStyle("top:72.5pt; left: 10pt;font-family:Times;line-height:12px")
	assert.Equal(t, 72.5, style["top"])
	assert.Equal(t, 10.0, style["left"])
	assert.Equal(t, 12.0, style["line-height"])
	_, ok := style["font-family"]
	assert.False(t, ok)
}

func TestValidator_ValidatePDFPath(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(good, []byte("%PDF-1.7\n..."), 0o644))

	notPDF := filepath.Join(dir, "doc.bin")
	require.NoError(t, os.WriteFile(notPDF, []byte("<html></html>"), 0o644))

	tests := []struct {
		name    string
		path    string
		maxSize int64
		wantErr bool
	}{
		{"valid pdf", good, 0, false},
		{"empty path", " ", 0, true},
		{"missing", filepath.Join(dir, "missing.pdf"), 0, true},
		{"directory", dir, 0, true},
		{"wrong magic", notPDF, 0, true},
		{"too large", good, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator(tt.maxSize).ValidatePDFPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}
