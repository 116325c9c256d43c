package doctor

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/adjutant/internal/config"
)

// ConfigCheck verifies the config file exists and parses. Missing is a
// warning (the server runs on defaults); unparseable is an error.
type ConfigCheck struct {
	FixableCheck
}

// NewConfigCheck creates the config file check.
func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{
		FixableCheck{BaseCheck{
			CheckName:        "config-file",
			CheckDescription: "Config file exists and parses",
			CheckCategory:    CategoryConfig,
		}},
	}
}

// Run checks the config file at ctx.ConfigPath.
func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}

	data, err := os.ReadFile(ctx.ConfigPath)
	if os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "not found, running on defaults"
		result.FixHint = "Run 'adjutant init' or 'adjutant doctor --fix' to write one"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = "unreadable: " + err.Error()
		return result
	}

	var cfg config.Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		result.Status = StatusError
		result.Message = "parse error: " + err.Error()
		result.FixHint = "Fix the TOML syntax in " + ctx.ConfigPath
		return result
	}

	result.Status = StatusOK
	result.Message = ctx.ConfigPath
	return result
}

// Fix writes the in-memory configuration to disk.
func (c *ConfigCheck) Fix(ctx *CheckContext) error {
	return ctx.Config.Save(ctx.ConfigPath)
}
