package export

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
)

func samplePaths() []*board.Path {
	line := board.NewPathWithID("line", "red")
	line.MoveTo(10, 50)
	line.LineTo(90, 50)
	dot := board.NewPathWithID("dot", "rgba(0, 0, 255, 0.5)")
	dot.MoveTo(50, 80)
	return []*board.Path{line, dot}
}

func TestPNGPaintsPathsOnWhite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, samplePaths(), Options{Width: 100, Height: 100}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	r, g, b, a := img.At(2, 2).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})

	r, g, b, _ = img.At(50, 50).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	r, _, b, _ = img.At(50, 80).RGBA()
	assert.Greater(t, b, r)
}

func TestRasterizeUsesBackground(t *testing.T) {
	r, err := Rasterize(nil, Options{Width: 4, Height: 4, Background: color.Black})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, r.Image().RGBAAt(1, 1))
}

func TestPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, samplePaths(), Options{Width: 200, Height: 100}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%%EOF")
}

func TestRejectsEmptySize(t *testing.T) {
	assert.Error(t, PNG(&bytes.Buffer{}, nil, Options{}))
	assert.Error(t, PDF(&bytes.Buffer{}, nil, Options{Width: 10}))
}

func TestSaveFiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Width: 64, Height: 48}
	require.NoError(t, SavePNG(filepath.Join(dir, "board.png"), samplePaths(), opts))
	require.NoError(t, SavePDF(filepath.Join(dir, "board.pdf"), samplePaths(), opts))

	for _, name := range []string{"board.png", "board.pdf"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Error(t, SavePNG(filepath.Join(dir, "missing", "x.png"), nil, opts))
}

func TestCoincidentPointsExportAsDot(t *testing.T) {
	dot := board.NewPathWithID("dot", "black")
	dot.MoveTo(20, 20)
	dot.LineTo(20, 20)
	r, err := Rasterize([]*board.Path{dot}, Options{Width: 40, Height: 40})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, r.Image().RGBAAt(20, 20))

	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, []*board.Path{dot}, Options{Width: 40, Height: 40}))
}
