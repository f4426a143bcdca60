package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/version"
)

// Shared color scheme
var (
	ColorSuccess = lipgloss.Color("42")  // Green
	ColorWarning = lipgloss.Color("226") // Yellow
	ColorError   = lipgloss.Color("196") // Red
	ColorInfo    = lipgloss.Color("39")  // Blue
	ColorMuted   = lipgloss.Color("240") // Gray
	ColorTitle   = lipgloss.Color("212") // Pink
)

// Summary counts the outcome of a scan.
type Summary struct {
	Total    int `json:"total"`
	Updates  int `json:"updates"`
	UpToDate int `json:"upToDate"`
	Failed   int `json:"failed"`
}

// Summarize counts the reports by outcome.
func Summarize(reports []model.ContainerReport) Summary {
	s := Summary{Total: len(reports)}
	for _, r := range reports {
		switch {
		case r.Container.Error != nil:
			s.Failed++
		case r.Container.UpdateAvailable:
			s.Updates++
		default:
			s.UpToDate++
		}
	}
	return s
}

// Report is the JSON form of a device scan.
type Report struct {
	Device     string                  `json:"device"`
	Summary    Summary                 `json:"summary"`
	Containers []model.ContainerReport `json:"containers"`
}

// Printer renders reports with styles suited to its writer. Colors are
// only emitted when the writer is a color terminal.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, r: lipgloss.NewRenderer(w)}
}

func (p *Printer) badge(bg lipgloss.Color, fg string, text string) string {
	return p.r.NewStyle().
		Padding(0, 1).
		Bold(true).
		Background(bg).
		Foreground(lipgloss.Color(fg)).
		Render(text)
}

// statusBadge returns the styled status of a container.
func (p *Printer) statusBadge(c model.Container) string {
	switch {
	case c.Error != nil:
		return p.badge(ColorError, "255", "FAILED")
	case c.UpdateAvailable:
		return p.badge(ColorWarning, "0", "UPDATE")
	default:
		return p.badge(ColorSuccess, "0", "UP TO DATE")
	}
}

// kindBadge returns the styled update kind of a container with an update.
func (p *Printer) kindBadge(c model.Container) string {
	if !c.UpdateAvailable {
		return ""
	}
	switch c.UpdateKind.Kind {
	case model.UpdateKindDigest:
		return p.badge(ColorInfo, "255", "DIGEST")
	case model.UpdateKindTag:
		switch c.UpdateKind.SemverDiff {
		case version.DiffMajor:
			return p.badge(ColorError, "255", "MAJOR")
		case version.DiffMinor:
			return p.badge(ColorWarning, "0", "MINOR")
		case version.DiffPatch:
			return p.badge(ColorSuccess, "0", "PATCH")
		case version.DiffPrerelease:
			return p.badge(ColorInfo, "255", "PRERELEASE")
		}
	}
	return p.badge(ColorMuted, "255", "UNKNOWN")
}

// versionChange formats "current → latest" for a container.
func versionChange(c model.Container) string {
	current := c.Image.Tag.Value
	if c.Result == nil || c.Result.Tag == "" || c.Result.Tag == current {
		return current
	}
	return fmt.Sprintf("%s → %s", current, c.Result.Tag)
}

// WriteReport prints one line per container followed by a summary.
func (p *Printer) WriteReport(device string, reports []model.ContainerReport) error {
	title := p.r.NewStyle().Bold(true).Foreground(ColorTitle)
	muted := p.r.NewStyle().Foreground(ColorMuted)

	var b strings.Builder
	fmt.Fprintln(&b, title.Render("Device: "+device))
	fmt.Fprintln(&b)

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		c := r.Container
		name := c.Name
		if c.DisplayName != "" && c.DisplayName != c.Name {
			name = fmt.Sprintf("%s (%s)", c.DisplayName, c.Name)
		}
		detail := ""
		switch {
		case c.Error != nil:
			detail = c.Error.Message
		case c.Result != nil && c.Result.Link != "":
			detail = c.Result.Link
		}
		if !c.UpdatedAt.IsZero() {
			detail = strings.TrimSpace(detail + " " + muted.Render("checked "+humanize.Time(c.UpdatedAt)))
		}
		rows = append(rows, []string{
			name,
			c.Image.Name,
			versionChange(c),
			p.statusBadge(c),
			p.kindBadge(c),
			detail,
		})
	}
	writeColumns(&b, rows)

	s := Summarize(reports)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, title.Render("Summary"))
	fmt.Fprintf(&b, "Total containers: %d\n", s.Total)
	fmt.Fprintf(&b, "Updates available: %d\n", s.Updates)
	fmt.Fprintf(&b, "Up to date: %d\n", s.UpToDate)
	if s.Failed > 0 {
		fmt.Fprintf(&b, "Failed checks: %d\n", s.Failed)
	}

	_, err := io.WriteString(p.w, b.String())
	return err
}

// writeColumns left-aligns cells by their printed width, ignoring escape
// sequences. Empty trailing cells produce no padding.
func writeColumns(b *strings.Builder, rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(cell)
			if i < len(row)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
}
