package output

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/prt/internal/models"
)

// UI writes prt's terminal output. Status lines go to Out; warnings,
// errors and dry-run notices go to ErrOut.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()

	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = green("✓")
	warningPrefix = yellow("⚠")
	errorPrefix   = red("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
)

// statusColors gives each board column its color. Unknown statuses print plain.
var statusColors = map[models.Status]func(a ...any) string{
	models.StatusWaiting:   yellow,
	models.StatusReviewing: cyan,
	models.StatusAction:    red,
	models.StatusApproved:  green,
	models.StatusArchived:  gray,
}

// Score bands: at or above goodScore is green, at or above fairScore yellow.
const (
	goodScore = 8
	fairScore = 5
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// StatusColor returns the status name in its board color.
func StatusColor(status models.Status) string {
	if paint, ok := statusColors[status]; ok {
		return paint(string(status))
	}
	return string(status)
}

// ScoreColor formats an approval score, "-" when unset.
func ScoreColor(score *int) string {
	if score == nil {
		return "-"
	}
	return scoreBand(float64(*score))(strconv.Itoa(*score))
}

// AvgScoreColor formats an average score to one decimal, "-" when unset.
func AvgScoreColor(avg *float64) string {
	if avg == nil {
		return "-"
	}
	return scoreBand(*avg)(strconv.FormatFloat(*avg, 'f', 1, 64))
}

func scoreBand(v float64) func(a ...any) string {
	switch {
	case v >= goodScore:
		return green
	case v >= fairScore:
		return yellow
	default:
		return red
	}
}

func line(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { line(u.Out, infoPrefix, format, a) }
func (u *UI) Success(format string, a ...any) { line(u.Out, successPrefix, format, a) }
func (u *UI) Warning(format string, a ...any) { line(u.ErrOut, warningPrefix, format, a) }
func (u *UI) Error(format string, a ...any)   { line(u.ErrOut, errorPrefix, format, a) }

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		line(u.Out, verbosePrefix, format, a)
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Field prints one indented "Label: value" line of a detail view. Labels
// line up in a fixed column.
func (u *UI) Field(label, format string, a ...any) {
	fmt.Fprintf(u.Out, "  %-11s %s\n", label+":", fmt.Sprintf(format, a...))
}

// Table creates a borderless, left-aligned table writing to Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
