package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tendant/simple-geoindexer/internal/bus"
	"github.com/tendant/simple-geoindexer/pkg/schema"
)

var (
	kindStyle     = lipgloss.NewStyle().Bold(true).Width(22)
	progressStyle = kindStyle.Foreground(lipgloss.Color("#2563eb"))
	doneStyle     = kindStyle.Foreground(lipgloss.Color("#16a34a"))
	errorStyle    = kindStyle.Foreground(lipgloss.Color("#dc2626"))
	idleStyle     = kindStyle.Foreground(lipgloss.Color("#64748b"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#475569"))
)

func styleFor(s schema.State) lipgloss.Style {
	switch {
	case s.Kind == schema.StateFailure || s.IsError():
		return errorStyle
	case s.Kind == schema.StateAvailable || s.Kind == schema.StateDownloaded ||
		s.Kind == schema.StateProcessed || s.Kind == schema.StateIndexed:
		return doneStyle
	case s.Kind == schema.StateNotAvailable:
		return idleStyle
	default:
		return progressStyle
	}
}

// renderState formats one state as a single terminal line.
func renderState(s schema.State) string {
	var parts []string
	if s.FilePath != "" {
		parts = append(parts, "path="+s.FilePath)
	}
	if !s.StartedAt.IsZero() {
		parts = append(parts, "started="+s.StartedAt.Local().Format(time.TimeOnly))
	}
	if s.Duration > 0 {
		parts = append(parts, "took="+s.Duration.Round(time.Millisecond).String())
	}
	if s.Details != "" {
		parts = append(parts, s.Details)
	}
	if s.Message != "" {
		parts = append(parts, s.Message)
	}

	line := styleFor(s).Render(string(s.Kind))
	if len(parts) > 0 {
		line += " " + detailStyle.Render(strings.Join(parts, " "))
	}
	return line
}

func printUpdate(w io.Writer, u bus.Update, asJSON bool) error {
	if asJSON {
		data, err := schema.JSON.Marshal(u.State)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, renderState(u.State))
	return err
}
