package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// SessionsFileCheck verifies the terminal-session registry parses and
// warns when sessions are recorded but tmux is unavailable to host them.
type SessionsFileCheck struct {
	BaseCheck

	lookPath func(string) (string, error)
}

// NewSessionsFileCheck creates the session registry check.
func NewSessionsFileCheck() *SessionsFileCheck {
	return &SessionsFileCheck{
		BaseCheck: BaseCheck{
			CheckName:        "sessions-file",
			CheckDescription: "Terminal session registry parses",
			CheckCategory:    CategoryTerminal,
		},
		lookPath: exec.LookPath,
	}
}

// Run parses sessions.json.
func (c *SessionsFileCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}
	path := ctx.Config.SessionsPath()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "no sessions recorded"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result
	}

	var file struct {
		Sessions []struct {
			ID     string `json:"id"`
			Target string `json:"target"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		result.Status = StatusError
		result.Message = "parse error: " + err.Error()
		result.FixHint = "Move " + path + " aside; live tmux sessions will be rediscovered"
		return result
	}

	if len(file.Sessions) > 0 {
		if _, err := c.lookPath("tmux"); err != nil {
			result.Status = StatusWarning
			result.Message = fmt.Sprintf("%d sessions recorded but tmux is not installed", len(file.Sessions))
			return result
		}
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%d sessions recorded", len(file.Sessions))
	return result
}
