package browser

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"

	"github.com/smileynet/fluffy/internal/decode"
)

// halfBlock draws two vertically stacked pixels in one cell: the
// foreground color fills the top half, the background the bottom.
const halfBlock = "▀"

// lowerBlock is used when only the bottom pixel is opaque.
const lowerBlock = "▄"

// RenderImage draws img into a block of cols × rows terminal cells, two
// pixels per cell vertically, preserving the aspect ratio. Every line is
// padded to cols cells. Transparent pixels are left blank.
func RenderImage(img image.Image, cols, rows int) string {
	if img == nil || cols <= 0 || rows <= 0 {
		return ""
	}

	size := decode.FitSize(img.Bounds().Size(), image.Pt(cols, rows*2))
	if size.X == 0 || size.Y == 0 {
		return ""
	}
	px := image.NewNRGBA(image.Rectangle{Max: size})
	draw.ApproxBiLinear.Scale(px, px.Bounds(), img, img.Bounds(), draw.Src, nil)

	var b strings.Builder
	lines := (size.Y + 1) / 2
	for row := 0; row < lines; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for x := 0; x < size.X; x++ {
			top := px.NRGBAAt(x, row*2)
			var bottom color.NRGBA
			if row*2+1 < size.Y {
				bottom = px.NRGBAAt(x, row*2+1)
			}
			b.WriteString(cell(top, bottom))
		}
		b.WriteString(strings.Repeat(" ", cols-size.X))
	}
	return b.String()
}

func cell(top, bottom color.NRGBA) string {
	topOpaque, bottomOpaque := top.A >= 0x80, bottom.A >= 0x80
	switch {
	case topOpaque && bottomOpaque:
		return lipgloss.NewStyle().
			Foreground(hex(top)).
			Background(hex(bottom)).
			Render(halfBlock)
	case topOpaque:
		return lipgloss.NewStyle().Foreground(hex(top)).Render(halfBlock)
	case bottomOpaque:
		return lipgloss.NewStyle().Foreground(hex(bottom)).Render(lowerBlock)
	default:
		return " "
	}
}

func hex(c color.NRGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// center places s in the middle of a cols × rows block.
func center(s string, cols, rows int) string {
	return lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, s)
}

// truncate shortens s to at most width cells, marking the cut with "…".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
