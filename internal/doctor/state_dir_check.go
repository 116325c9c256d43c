package doctor

import (
	"os"
	"path/filepath"
)

// StateDirCheck verifies the state directory exists and is writable.
type StateDirCheck struct {
	FixableCheck
}

// NewStateDirCheck creates the state directory check.
func NewStateDirCheck() *StateDirCheck {
	return &StateDirCheck{
		FixableCheck{BaseCheck{
			CheckName:        "state-dir",
			CheckDescription: "State directory exists and is writable",
			CheckCategory:    CategoryCore,
		}},
	}
}

// Run probes the state directory with a throwaway write.
func (c *StateDirCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}
	dir := ctx.Config.ProjectsStateDir

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = dir + " does not exist"
		result.FixHint = "Run 'adjutant doctor --fix' to create it"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result
	}
	if !info.IsDir() {
		result.Status = StatusError
		result.Message = dir + " is not a directory"
		return result
	}

	probe, err := os.CreateTemp(dir, ".doctor-probe-*")
	if err != nil {
		result.Status = StatusError
		result.Message = "not writable: " + err.Error()
		return result
	}
	probe.Close()
	os.Remove(probe.Name())

	result.Status = StatusOK
	result.Message = dir
	return result
}

// Fix creates the state directory.
func (c *StateDirCheck) Fix(ctx *CheckContext) error {
	return os.MkdirAll(filepath.Join(ctx.Config.ProjectsStateDir), 0o755)
}
