// Package ui provides terminal styling for cardsync command output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor reports whether output to w should be colored. NO_COLOR
// disables color, CLICOLOR_FORCE forces it, otherwise w must be a
// terminal.
func ShouldUseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Adaptive colors pick a shade for light or dark terminal backgrounds.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9E9E9E"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1)
)

const (
	IconPass = "✓"
	IconWarn = "!"
	IconFail = "✗"
	IconStar = "★"
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderHeader(s string) string { return HeaderStyle.Render(s) }

// RenderPassIcon prefixes s with a green check mark.
func RenderPassIcon(s string) string {
	return RenderPass(IconPass) + " " + s
}

// RenderWarnIcon prefixes s with a warning marker.
func RenderWarnIcon(s string) string {
	return RenderWarn(IconWarn) + " " + s
}

// RenderFailIcon prefixes s with a red cross.
func RenderFailIcon(s string) string {
	return RenderFail(IconFail) + " " + s
}

// Card is the view model for RenderCard.
type Card struct {
	Text         string
	Languages    string
	Translation  string
	Alternatives []string
	Example      string
	Favorite     bool
	Categories   []string
	Detail       string
}

// RenderCard draws a bordered flash card.
func RenderCard(c Card) string {
	var b strings.Builder
	title := RenderAccent(c.Text)
	if c.Favorite {
		title += " " + RenderWarn(IconStar)
	}
	b.WriteString(title)
	if c.Languages != "" {
		fmt.Fprintf(&b, " %s", RenderMuted("("+c.Languages+")"))
	}
	if c.Translation != "" {
		fmt.Fprintf(&b, "\n%s", c.Translation)
	}
	if len(c.Alternatives) > 0 {
		fmt.Fprintf(&b, "\n%s", RenderMuted("also: "+strings.Join(c.Alternatives, ", ")))
	}
	if c.Example != "" {
		fmt.Fprintf(&b, "\n%s", RenderMuted("“"+c.Example+"”"))
	}
	if len(c.Categories) > 0 {
		fmt.Fprintf(&b, "\n%s", RenderMuted("#"+strings.Join(c.Categories, " #")))
	}
	if c.Detail != "" {
		fmt.Fprintf(&b, "\n%s", RenderMuted(c.Detail))
	}
	return CardStyle.Render(b.String())
}
