package banner

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chr1sbest/smithers/internal/config"
)

var quoteRand = rand.New(rand.NewSource(time.Now().UnixNano()))

var smithersQuotes = []string{
	"Anything for you, sir.",
	"Right away, sir.",
	"I'm allergic to bee stings. They cause me to, uh, die.",
	"People like dogs, Mr. Burns.",
	"It's my job to anticipate your every need, sir.",
}

// ANSI color codes
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	blue   = "\033[34m"
	yellow = "\033[33m"
)

// Box drawing characters
const (
	topLeft     = "╭"
	topRight    = "╮"
	bottomLeft  = "╰"
	bottomRight = "╯"
	horizontal  = "─"
	vertical    = "│"
	bullet      = "●"
	arrow       = "→"
)

// Banner handles pretty startup output
type Banner struct {
	writer io.Writer
	width  int
}

// New creates a new Banner that writes to stdout
func New() *Banner {
	return &Banner{
		writer: os.Stdout,
		width:  60,
	}
}

// NewWithWriter creates a Banner with a custom writer (for testing)
func NewWithWriter(w io.Writer) *Banner {
	return &Banner{
		writer: w,
		width:  60,
	}
}

// Print displays the startup banner with the goal and limits summary
func (b *Banner) Print(goal, runID, controlDir string, pol *config.Policies) {
	b.printHeader()
	b.printLine(bullet + " goal " + arrow + " " + goal)
	b.printLine(bullet + " run  " + arrow + " " + runID)
	if pol != nil {
		b.printLine(fmt.Sprintf("%s budgets %s %s", bullet, arrow, budgetSummary(pol)))
	}
	if controlDir != "" {
		b.printLine(fmt.Sprintf("%s control %s touch %s/killswitch.on to stop", bullet, arrow, controlDir))
	}
	b.printFooter()
}

func budgetSummary(pol *config.Policies) string {
	var parts []string
	if n := pol.Budgets.MaxSteps; n > 0 {
		parts = append(parts, fmt.Sprintf("%d step%s", n, pluralize(n)))
	}
	if s := pol.Budgets.MaxRunSeconds; s > 0 {
		parts = append(parts, (time.Duration(s) * time.Second).String())
	}
	if n := pol.Budgets.MaxScreenshots; n > 0 {
		parts = append(parts, fmt.Sprintf("%d screenshot%s", n, pluralize(n)))
	}
	if n := pol.Budgets.MaxRequests; n > 0 {
		parts = append(parts, fmt.Sprintf("%d request%s", n, pluralize(n)))
	}
	if len(parts) == 0 {
		return "none " + yellow + "(unbounded run)" + reset
	}
	return strings.Join(parts, ", ")
}

func (b *Banner) printHeader() {
	// Top border
	fmt.Fprintf(b.writer, "\n%s%s%s%s%s\n", dim, topLeft, strings.Repeat(horizontal, b.width-2), topRight, reset)

	// Title line
	titleText := "Smithers"
	title := fmt.Sprintf("  %s%s%s%s", bold, blue, titleText, reset)
	padding := b.width - visualLen(titleText) - 4
	fmt.Fprintf(b.writer, "%s%s%s%s%s%s\n", dim, vertical, reset, title, strings.Repeat(" ", padding), dim+vertical+reset)

	subtitleText := truncate(randomSmithersQuote(), b.width-4)
	sub := fmt.Sprintf("  %s%s%s", dim, subtitleText, reset)
	subPadding := b.width - visualLen(subtitleText) - 4
	if subPadding < 0 {
		subPadding = 0
	}
	fmt.Fprintf(b.writer, "%s%s%s%s%s%s\n", dim, vertical, reset, sub, strings.Repeat(" ", subPadding), dim+vertical+reset)

	// Separator
	fmt.Fprintf(b.writer, "%s%s%s%s%s\n", dim, vertical, strings.Repeat(horizontal, b.width-2), vertical, reset)
}

func (b *Banner) printLine(text string) {
	text = truncate(text, b.width-4)
	padding := b.width - visualLen(text) - 4
	if padding < 0 {
		padding = 0
	}
	fmt.Fprintf(b.writer, "%s%s%s  %s%s%s\n", dim, vertical, reset, text, strings.Repeat(" ", padding), dim+vertical+reset)
}

func (b *Banner) printFooter() {
	// Bottom border with start indicator
	fmt.Fprintf(b.writer, "%s%s%s%s%s\n", dim, bottomLeft, strings.Repeat(horizontal, b.width-2), bottomRight, reset)
	fmt.Fprintf(b.writer, "\n")
}

// visualLen returns the visual length of a string (excluding ANSI codes)
func visualLen(s string) int {
	for _, code := range []string{reset, bold, dim, blue, yellow} {
		s = strings.ReplaceAll(s, code, "")
	}
	return utf8.RuneCountInString(s)
}

// truncate cuts text to max visual columns, ellipsizing when needed.
func truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if visualLen(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func randomSmithersQuote() string {
	if len(smithersQuotes) == 0 {
		return "Safety supervisor for autonomous runs"
	}
	return smithersQuotes[quoteRand.Intn(len(smithersQuotes))]
}

func pluralize(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
