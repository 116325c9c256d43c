package doctor

import (
	"encoding/json"
	"fmt"
	"os"
)

// ProjectsFileCheck verifies the project registry file parses and its
// registered paths still exist.
type ProjectsFileCheck struct {
	BaseCheck
}

// NewProjectsFileCheck creates the project registry check.
func NewProjectsFileCheck() *ProjectsFileCheck {
	return &ProjectsFileCheck{
		BaseCheck{
			CheckName:        "projects-file",
			CheckDescription: "Project registry parses and paths exist",
			CheckCategory:    CategoryStorage,
		},
	}
}

// Run parses projects.json and stats every registered path.
func (c *ProjectsFileCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}
	path := ctx.Config.ProjectsPath()

	data, err := os.ReadFile(path)
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
			ID   string `json:"id"`
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		result.Status = StatusError
		result.Message = "parse error: " + err.Error()
		result.FixHint = "Move " + path + " aside and re-register your projects"
		return result
	}

	missing := 0
	for _, p := range file.Projects {
		if _, err := os.Stat(p.Path); err != nil {
			missing++
			result.Details = append(result.Details, p.Name+": "+p.Path+" is gone")
		}
	}
	if missing > 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d of %d project paths missing", missing, len(file.Projects))
		result.FixHint = "Unregister stale projects via DELETE /api/projects/{id}"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%d projects registered", len(file.Projects))
	return result
}
