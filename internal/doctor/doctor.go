package doctor

import (
	"fmt"
	"io"
	"time"

	"github.com/steveyegge/adjutant/internal/ui"
)

// Doctor manages and executes health checks.
type Doctor struct {
	checks []Check
}

// NewDoctor creates a new Doctor with no registered checks.
func NewDoctor() *Doctor {
	return &Doctor{
		checks: make([]Check, 0),
	}
}

// Register adds a check to the doctor's check list.
func (d *Doctor) Register(check Check) {
	d.checks = append(d.checks, check)
}

// RegisterAll adds multiple checks to the doctor's check list.
func (d *Doctor) RegisterAll(checks ...Check) {
	d.checks = append(d.checks, checks...)
}

// Checks returns the list of registered checks.
func (d *Doctor) Checks() []Check {
	return d.checks
}

// Run executes all registered checks and returns a report.
func (d *Doctor) Run(ctx *CheckContext) *Report {
	return d.RunStreaming(ctx, nil, 0, true)
}

// RunStreaming executes all registered checks with optional real-time output.
// If w is non-nil, prints each check name as it starts and result when done.
// If slowThreshold > 0, shows an hourglass for slow checks. If isTTY is
// false, output uses plain text prefixes (PASS/WARN/FAIL) with no carriage
// return overwrites.
func (d *Doctor) RunStreaming(ctx *CheckContext, w io.Writer, slowThreshold time.Duration, isTTY bool) *Report {
	report := NewReport()

	for _, check := range d.checks {
		if w != nil && isTTY {
			fmt.Fprintf(w, "  %s  %s...", ui.RenderMuted("○"), check.Name())
		}

		start := time.Now()
		result := check.Run(ctx)
		result.Elapsed = time.Since(start)

		if result.Name == "" {
			result.Name = check.Name()
		}
		if result.Category == "" {
			result.Category = check.Category()
		}

		if w != nil {
			d.streamResult(w, result, slowThreshold, isTTY, report)
		}
		report.Add(result)
	}

	return report
}

// Fix runs all checks with auto-fix enabled where possible.
func (d *Doctor) Fix(ctx *CheckContext) *Report {
	return d.FixStreaming(ctx, nil, 0, true)
}

// FixStreaming runs all checks with auto-fix and optional real-time output.
// A failing fixable check is fixed and re-run to verify; its message gains
// a "(fixed)" suffix on success.
func (d *Doctor) FixStreaming(ctx *CheckContext, w io.Writer, slowThreshold time.Duration, isTTY bool) *Report {
	report := NewReport()

	for _, check := range d.checks {
		if w != nil && isTTY {
			fmt.Fprintf(w, "  %s  %s...", ui.RenderMuted("○"), check.Name())
		}

		start := time.Now()
		result := check.Run(ctx)
		if result.Name == "" {
			result.Name = check.Name()
		}
		if result.Category == "" {
			result.Category = check.Category()
		}

		if result.Status != StatusOK && check.CanFix() {
			if w != nil && isTTY {
				var problemIcon string
				if result.Status == StatusError {
					problemIcon = ui.RenderFailIcon()
				} else {
					problemIcon = ui.RenderWarnIcon()
				}
				fmt.Fprintf(w, "\r  %s  %s", problemIcon, check.Name())
				if result.Message != "" {
					fmt.Fprintf(w, "%s", ui.RenderMuted(" "+result.Message))
				}
				fmt.Fprintf(w, "%s", ui.RenderMuted(" (fixing)..."))
			}

			err := check.Fix(ctx)
			if err == nil {
				// Re-run to verify the fix took.
				result = check.Run(ctx)
				if result.Name == "" {
					result.Name = check.Name()
				}
				if result.Category == "" {
					result.Category = check.Category()
				}
				if result.Status == StatusOK {
					result.Message = result.Message + " (fixed)"
					result.Fixed = true
				}
			} else {
				result.Details = append(result.Details, "Fix failed: "+err.Error())
			}
		}

		result.Elapsed = time.Since(start)

		if w != nil {
			d.streamResult(w, result, slowThreshold, isTTY, report)
		}
		report.Add(result)
	}

	return report
}

// streamResult prints one result line in either TTY or plain mode.
func (d *Doctor) streamResult(w io.Writer, result *CheckResult, slowThreshold time.Duration, isTTY bool, report *Report) {
	isSlow := slowThreshold > 0 && result.Elapsed >= slowThreshold
	if isSlow {
		report.Summary.Slow++
	}

	if isTTY {
		var statusIcon string
		if result.Fixed {
			statusIcon = ui.RenderFixIcon()
		} else {
			switch result.Status {
			case StatusOK:
				statusIcon = ui.RenderPassIcon()
			case StatusWarning:
				statusIcon = ui.RenderWarnIcon()
			case StatusError:
				statusIcon = ui.RenderFailIcon()
			}
		}
		// The fix icon is double-width, so pad one space less.
		slowIndicator := "  "
		if result.Fixed {
			slowIndicator = " "
		}
		if isSlow {
			slowIndicator = "⏳"
		}
		fmt.Fprintf(w, "\r  %s%s%s", statusIcon, slowIndicator, result.Name)
		if result.Message != "" {
			fmt.Fprintf(w, "%s", ui.RenderMuted(" "+result.Message))
		}
		if isSlow {
			fmt.Fprintf(w, "%s", ui.RenderMuted(" ("+formatDuration(result.Elapsed)+")"))
		}
	} else {
		var prefix string
		if result.Fixed {
			prefix = "FIXED"
		} else {
			switch result.Status {
			case StatusOK:
				prefix = "PASS"
			case StatusWarning:
				prefix = "WARN"
			case StatusError:
				prefix = "FAIL"
			}
		}
		fmt.Fprintf(w, "%s  %s", prefix, result.Name)
		if result.Message != "" {
			fmt.Fprintf(w, "  %s", result.Message)
		}
		if isSlow {
			fmt.Fprintf(w, "  (%s)", formatDuration(result.Elapsed))
		}
	}
	fmt.Fprintln(w)
}

// formatDuration renders an elapsed time compactly (850ms, 2.3s).
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// BaseCheck provides a base implementation for checks that don't support
// auto-fix. Embed this in custom checks to get default CanFix() and Fix().
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    string
}

// Category returns the check's category for grouping in output.
func (b *BaseCheck) Category() string {
	return b.CheckCategory
}

// Name returns the check name.
func (b *BaseCheck) Name() string {
	return b.CheckName
}

// Description returns the check description.
func (b *BaseCheck) Description() string {
	return b.CheckDescription
}

// CanFix returns false by default.
func (b *BaseCheck) CanFix() bool {
	return false
}

// Fix returns an error indicating this check cannot be auto-fixed.
func (b *BaseCheck) Fix(ctx *CheckContext) error {
	return ErrCannotFix
}

// FixableCheck provides a base implementation for checks that support
// auto-fix. Embed this and implement Fix().
type FixableCheck struct {
	BaseCheck
}

// CanFix returns true for fixable checks.
func (f *FixableCheck) CanFix() bool {
	return true
}
