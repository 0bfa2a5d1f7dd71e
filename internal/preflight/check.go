package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: StatusPass, Message: msg, Required: true}
}

func fail(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: StatusFail, Message: msg, Required: true}
}

// Checker runs the checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against cfg.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config) []CheckResult {
	results := []CheckResult{
		c.CheckWritePermissions(cfg.DataDir),
		c.CheckDiskSpace(cfg.DataDir),
		c.CheckFileDescriptors(),
		c.CheckEventStore(ctx, cfg),
		c.CheckQueue(ctx, cfg),
		c.CheckEnabledBackend(cfg),
	}
	return append(results, c.CheckBackendLayouts(cfg)...)
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints one line per check followed by a summary.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "zepindex doctor")
	_, _ = fmt.Fprintln(c.output, "===============")
	_, _ = fmt.Fprintln(c.output)

	var problems []string
	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
		if r.Status != StatusPass {
			problems = append(problems, r.Name+": "+r.Message)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
	if len(problems) > 0 {
		_, _ = fmt.Fprintf(c.output, "\n%d issue(s):\n", len(problems))
		for _, p := range problems {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", p)
		}
	}
}

// CheckWritePermissions creates path if needed and writes a probe file.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	const name = "write_permissions"
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fail(name, fmt.Sprintf("cannot create %s: %v", path, err))
	}
	probe := filepath.Join(path, ".zep-preflight")
	f, err := os.Create(probe)
	if err != nil {
		return fail(name, fmt.Sprintf("permission denied: %v", err))
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return pass(name, "OK")
}
