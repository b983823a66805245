package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"streamchat/internal/domain"
	"streamchat/internal/usecase"
)

// Adaptive colors for light and dark terminals.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

// Prompt is the styled input prompt.
func Prompt() string {
	return promptStyle.Render("User:") + " "
}

// Renderer writes streamed replies and turn reports to a terminal.
type Renderer struct {
	out      io.Writer
	markdown bool
	width    int
	md       *glamour.TermRenderer
}

// NewRenderer creates a renderer. With markdown set, each completed reply
// is also printed formatted.
func NewRenderer(out io.Writer, markdown bool, width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{out: out, markdown: markdown, width: width}
}

// Start prints the reply header.
func (r *Renderer) Start() {
	fmt.Fprintln(r.out)
}

// Delta writes one fragment of reply text as it arrives.
func (r *Renderer) Delta(text string) {
	io.WriteString(r.out, text)
}

// Finish closes the streamed reply and reports what the turn changed.
func (r *Renderer) Finish(result *usecase.TurnResult) {
	fmt.Fprintln(r.out)

	if r.markdown && strings.TrimSpace(result.Text) != "" {
		fmt.Fprint(r.out, r.renderMarkdown(result.Text))
	}

	for _, reason := range result.FinishReasons {
		fmt.Fprintln(r.out, warningStyle.Render("Warning: finish_reason is "+reason))
	}
	if !result.Complete {
		fmt.Fprintln(r.out, warningStyle.Render("Warning: the reply stream ended early"))
	}
	if result.TemperatureChanged {
		fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("Adjusted temperature to %.2f due to negative sentiment", result.Temperature)))
	}
	if len(result.Evicted) > 0 {
		fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("Dropped %d old message(s) to stay within the context budget", len(result.Evicted))))
	}
	if result.OverBudget {
		fmt.Fprintln(r.out, warningStyle.Render("Warning: only the system prompt remains and the context budget is still exceeded"))
	}
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("Total tokens including this response: %d", result.TotalTokens)))
}

// Failure reports a failed turn.
func (r *Renderer) Failure(err error) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, errorStyle.Render(FormatFailure(err)))
}

// FormatFailure names the failure kind and, when the server sent one, its
// error payload.
func FormatFailure(err error) string {
	code := domain.ErrorCodeOf(err)
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Body != "" {
			return fmt.Sprintf("%s (HTTP %d): %s", code, apiErr.StatusCode, apiErr.Body)
		}
		return fmt.Sprintf("%s (HTTP %d)", code, apiErr.StatusCode)
	}
	return fmt.Sprintf("%s: %v", code, err)
}

func (r *Renderer) renderMarkdown(content string) string {
	if r.md == nil {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return content + "\n"
		}
		r.md = md
	}
	rendered, err := r.md.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}
