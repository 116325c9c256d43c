package doctor

import (
	"os/exec"
	"strings"
)

// TmuxBinaryCheck verifies tmux is installed. Terminal sessions are
// optional, so absence is a warning rather than an error.
type TmuxBinaryCheck struct {
	BaseCheck

	lookPath func(string) (string, error)
	version  func(string) (string, error)
}

// NewTmuxBinaryCheck creates the tmux binary check.
func NewTmuxBinaryCheck() *TmuxBinaryCheck {
	return &TmuxBinaryCheck{
		BaseCheck: BaseCheck{
			CheckName:        "tmux-binary",
			CheckDescription: "tmux is installed for terminal sessions",
			CheckCategory:    CategoryTerminal,
		},
		lookPath: exec.LookPath,
		version: func(bin string) (string, error) {
			out, err := exec.Command(bin, "-V").CombinedOutput()
			return string(out), err
		},
	}
}

// Run locates tmux on PATH.
func (c *TmuxBinaryCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}

	bin, err := c.lookPath("tmux")
	if err != nil {
		result.Status = StatusWarning
		result.Message = "tmux not found, terminal sessions disabled"
		result.FixHint = "Install tmux to enable terminal sessions"
		return result
	}

	out, err := c.version(bin)
	if err != nil {
		result.Status = StatusWarning
		result.Message = "tmux -V failed: " + strings.TrimSpace(out)
		return result
	}

	result.Status = StatusOK
	result.Message = strings.TrimSpace(out)
	return result
}
