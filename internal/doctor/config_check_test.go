package doctor

import (
	"os"
	"testing"
)

func TestConfigCheckMissingFileWarnsAndFixes(t *testing.T) {
	ctx := testContext(t)
	c := NewConfigCheck()

	res := c.Run(ctx)
	if res.Status != StatusWarning {
		t.Fatalf("Status = %v, want warning for missing config", res.Status)
	}

	if err := c.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if res := c.Run(ctx); res.Status != StatusOK {
		t.Errorf("after fix Status = %v, want OK", res.Status)
	}
}

func TestConfigCheckParseError(t *testing.T) {
	ctx := testContext(t)
	if err := os.WriteFile(ctx.ConfigPath, []byte("listen_addr = [not toml"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewConfigCheck().Run(ctx)
	if res.Status != StatusError {
		t.Errorf("Status = %v, want error for bad TOML", res.Status)
	}
}

func TestStateDirCheckCreatesOnFix(t *testing.T) {
	ctx := testContext(t)
	ctx.Config.ProjectsStateDir = ctx.Config.ProjectsStateDir + "/nested/state"

	c := NewStateDirCheck()
	if res := c.Run(ctx); res.Status != StatusWarning {
		t.Fatalf("Status = %v, want warning for missing dir", res.Status)
	}
	if err := c.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if res := c.Run(ctx); res.Status != StatusOK {
		t.Errorf("after fix Status = %v, want OK", res.Status)
	}
}

func TestProjectsFileCheckFlagsMissingPaths(t *testing.T) {
	ctx := testContext(t)
	registry := `{"projects":[{"id":"p1","name":"gone","path":"/nonexistent/gone-` + t.Name() + `"}]}`
	if err := os.WriteFile(ctx.Config.ProjectsPath(), []byte(registry), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewProjectsFileCheck().Run(ctx)
	if res.Status != StatusWarning {
		t.Errorf("Status = %v, want warning for missing project path", res.Status)
	}
	if len(res.Details) != 1 {
		t.Errorf("Details = %v, want one missing path named", res.Details)
	}
}
