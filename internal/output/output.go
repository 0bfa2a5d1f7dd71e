// Package output formats zepindex CLI output.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

// Writer prints status lines, tables and progress. Write errors are ignored
// since there is nowhere better to report them.
type Writer struct {
	out         io.Writer
	interactive bool
}

// New wraps out. Progress redraws in place only when out is a terminal.
func New(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok {
		w.interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return w
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) { w.Status("✅", msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

func (w *Writer) Warning(msg string) { w.Status("⚠️ ", msg) }

func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }

// Table prints rows under header with aligned columns.
func (w *Writer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

// Progress prints a bar for percent (0-100). On a terminal the line is
// redrawn in place; elsewhere each call prints a new line.
func (w *Writer) Progress(percent int, msg string) {
	percent = min(max(percent, 0), 100)
	line := fmt.Sprintf("[%s] %3d%% %s", bar(percent, 30), percent, msg)
	if !w.interactive {
		_, _ = fmt.Fprintln(w.out, line)
		return
	}
	_, _ = fmt.Fprintf(w.out, "\r%s", line)
	if percent == 100 {
		_, _ = fmt.Fprintln(w.out)
	}
}

func bar(percent, width int) string {
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
