package doctor

import (
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// MinBDVersion is the oldest bd release whose JSON output Adjutant
// understands.
const MinBDVersion = "v0.9.0"

var bdVersionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)

// BDBinaryCheck verifies the bd CLI is installed and new enough.
type BDBinaryCheck struct {
	BaseCheck

	lookPath func(string) (string, error)
	version  func(string) (string, error)
}

// NewBDBinaryCheck creates the bd binary check.
func NewBDBinaryCheck() *BDBinaryCheck {
	return &BDBinaryCheck{
		BaseCheck: BaseCheck{
			CheckName:        "bd-binary",
			CheckDescription: "bd CLI is installed and compatible",
			CheckCategory:    CategoryBeads,
		},
		lookPath: exec.LookPath,
		version: func(bin string) (string, error) {
			out, err := exec.Command(bin, "--version").CombinedOutput()
			return string(out), err
		},
	}
}

// Run locates bd on PATH and compares its version against MinBDVersion.
func (c *BDBinaryCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}

	bin, err := c.lookPath("bd")
	if err != nil {
		result.Status = StatusError
		result.Message = "bd not found on PATH"
		result.FixHint = "Install beads: https://github.com/steveyegge/beads"
		return result
	}

	out, err := c.version(bin)
	if err != nil {
		result.Status = StatusWarning
		result.Message = "bd --version failed: " + strings.TrimSpace(out)
		return result
	}
	raw := bdVersionRe.FindString(out)
	if raw == "" {
		result.Status = StatusWarning
		result.Message = "could not parse bd version from " + strings.TrimSpace(out)
		return result
	}
	v := "v" + raw
	if semver.Compare(v, MinBDVersion) < 0 {
		result.Status = StatusError
		result.Message = "bd " + raw + " is older than required " + strings.TrimPrefix(MinBDVersion, "v")
		result.FixHint = "Upgrade bd to " + strings.TrimPrefix(MinBDVersion, "v") + " or newer"
		return result
	}

	result.Status = StatusOK
	result.Message = "bd " + raw + " at " + bin
	return result
}
