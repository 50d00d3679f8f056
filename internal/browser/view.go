package browser

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
	"github.com/smileynet/fluffy/internal/session"
)

// listThumbCols is the width of a list row thumbnail in cells.
const listThumbCols = 2

// viewCollection renders the file list or icon grid.
func (m Model) viewCollection(width, height int) string {
	if len(m.files) == 0 {
		return dimStyle.Render("No files")
	}
	if m.mode == session.ModeIcons {
		return m.viewIcons(width)
	}
	return m.viewList(width)
}

func (m Model) viewList(width int) string {
	start, end := m.visibleRange()
	nameWidth := width - lipgloss.Width(CursorMarker) - listThumbCols - 1

	var b strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			b.WriteByte('\n')
		}
		k := m.files[i]
		name := truncate(k.Name(), nameWidth)
		if i == m.cursor {
			b.WriteString(CursorMarker)
			name = selectedStyle.Render(name)
		} else {
			b.WriteString("  ")
		}
		b.WriteString(m.thumbView(m.thumbs[k], listThumbCols, 1))
		b.WriteByte(' ')
		b.WriteString(name)
	}
	return b.String()
}

func (m Model) viewIcons(width int) string {
	start, end := m.visibleRange()
	perRow, _ := m.grid()
	cols, rows := m.tileSize()

	var lines []string
	for row := start; row < end; row += perRow {
		var tiles []string
		for i := row; i < min(row+perRow, end); i++ {
			k := m.files[i]
			name := truncate(k.Name(), cols)
			if i == m.cursor {
				name = selectedStyle.Render(name)
			}
			tile := lipgloss.JoinVertical(lipgloss.Center,
				m.thumbView(m.thumbs[k], cols, rows),
				lipgloss.PlaceHorizontal(cols, lipgloss.Center, name),
			)
			tiles = append(tiles, tile, " ")
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, tiles...))
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(lines, "\n"))
}

// thumbView renders a loader's image or its placeholder in a cols × rows block.
func (m Model) thumbView(e *entry, cols, rows int) string {
	if e != nil && e.last.State == loader.Loaded && e.last.Image != nil {
		if s := RenderImage(e.last.Image.Primary(), cols, rows); s != "" {
			return center(s, cols, rows)
		}
	}
	return center(m.marker(e), cols, rows)
}

// marker returns the placeholder for an unfinished or failed load.
func (m Model) marker(e *entry) string {
	if e == nil {
		return dimStyle.Render(QueuedMarker)
	}
	switch e.last.State {
	case loader.Loading:
		return m.spinner.View()
	case loader.Failed:
		return failedStyle.Render(FailedMarker)
	default:
		return dimStyle.Render(QueuedMarker)
	}
}

// viewInspector renders details of the selected file above its preview.
func (m Model) viewInspector(width, height int) string {
	if len(m.files) == 0 || m.detail == nil {
		return dimStyle.Render("Nothing selected")
	}
	d := m.detail.last

	info := []string{
		labelStyle.Render("Path  ") + truncate(d.Key.Path(), width-6),
		labelStyle.Render("State ") + m.stateText(d),
	}
	if m.header != "" {
		info = append(info, labelStyle.Render("File  ")+m.header)
	}
	if d.State == loader.Loaded && d.Image != nil {
		size := d.Image.Bounds().Size()
		info = append(info,
			labelStyle.Render("Size  ")+fmt.Sprintf("%d×%d, %d representation(s)", size.X, size.Y, len(d.Image.Representations())),
			labelStyle.Render("Bytes ")+imagecache.FormatBytes(d.Image.ByteSize()),
		)
	}
	info = append(info, "", labelStyle.Render("Caches"))
	for _, g := range m.registry.Groups() {
		c := g.Cache()
		info = append(info, truncate(fmt.Sprintf("  %-12s %3d  %s / %s",
			g.Name(), c.Len(), imagecache.FormatBytes(c.ByteSize()), imagecache.FormatBytes(c.ByteCapacity())), width))
	}

	previewRows := height - len(info) - 1
	if previewRows < 1 {
		return strings.Join(info, "\n")
	}
	preview := m.thumbView(m.detail, width, previewRows)
	return lipgloss.JoinVertical(lipgloss.Left, preview, strings.Join(info, "\n"))
}

func (m Model) stateText(u loader.Update) string {
	switch u.State {
	case loader.Loading:
		return m.spinner.View() + " loading"
	case loader.Failed:
		text := failedStyle.Render(FailedMarker + " failed")
		if u.Err != nil {
			text += dimStyle.Render(" " + u.Err.Error())
		}
		return text
	default:
		return u.State.String()
	}
}
