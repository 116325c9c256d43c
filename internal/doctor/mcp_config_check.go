package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MCPConfigCheck verifies each registered project's .mcp.json points an
// "adjutant" server at this instance, so agents launched in the project
// connect back here.
type MCPConfigCheck struct {
	BaseCheck
}

// NewMCPConfigCheck creates the .mcp.json wiring check.
func NewMCPConfigCheck() *MCPConfigCheck {
	return &MCPConfigCheck{
		BaseCheck{
			CheckName:        "mcp-config",
			CheckDescription: "Registered projects wire agents to this server",
			CheckCategory:    CategoryConfig,
		},
	}
}

// Run inspects .mcp.json in every registered project directory.
func (c *MCPConfigCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}

	data, err := os.ReadFile(ctx.Config.ProjectsPath())
	if os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "no projects registered yet"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result
	}

	var file struct {
		Projects []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		result.Status = StatusError
		result.Message = "project registry parse error: " + err.Error()
		return result
	}

	unwired := 0
	checked := 0
	for _, p := range file.Projects {
		mcpPath := filepath.Join(p.Path, ".mcp.json")
		raw, err := os.ReadFile(mcpPath)
		if err != nil {
			unwired++
			result.Details = append(result.Details, p.Name+": no .mcp.json")
			continue
		}
		checked++
		var mcp struct {
			Servers map[string]json.RawMessage `json:"mcpServers"`
		}
		if err := json.Unmarshal(raw, &mcp); err != nil {
			unwired++
			result.Details = append(result.Details, p.Name+": .mcp.json parse error")
			continue
		}
		if _, ok := mcp.Servers["adjutant"]; !ok {
			unwired++
			result.Details = append(result.Details, p.Name+": no adjutant entry in .mcp.json")
		}
	}

	if unwired > 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d of %d projects not wired for MCP", unwired, len(file.Projects))
		result.FixHint = "Run 'adjutant init' inside each project to write .mcp.json"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%d projects wired", len(file.Projects))
	return result
}
