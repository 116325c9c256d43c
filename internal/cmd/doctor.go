package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/adjutant/internal/doctor"
	"github.com/steveyegge/adjutant/internal/ui"
)

var (
	doctorFix     bool
	doctorVerbose bool
	doctorSlow    string
)

var doctorCmd = &cobra.Command{
	Use:               "doctor [check-name | category]...",
	GroupID:           GroupDiag,
	Short:             "Run health checks on the installation",
	Args:              cobra.ArbitraryArgs,
	RunE:              runDoctor,
	ValidArgsFunction: completeDoctorArgs,
}

func init() {
	doctorCmd.Long = buildDoctorLong()
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Attempt to automatically fix issues")
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show detailed output")
	doctorCmd.Flags().StringVar(&doctorSlow, "slow", "", "Highlight slow checks (optional threshold, default 1s)")
	doctorCmd.Flags().Lookup("slow").NoOptDefVal = "1s"
	rootCmd.AddCommand(doctorCmd)
}

// buildDoctorLong generates the Long help from the registered checks so
// it stays in sync as checks change.
func buildDoctorLong() string {
	byCategory := make(map[string][]doctor.Check)
	for _, c := range doctor.DefaultChecks() {
		cat := c.Category()
		if cat == "" {
			cat = "Other"
		}
		byCategory[cat] = append(byCategory[cat], c)
	}

	var b strings.Builder
	b.WriteString("Run diagnostic checks on the Adjutant installation.\n\n")
	b.WriteString("Run all checks (default), specific checks by name, or a whole category.\n")
	for _, category := range doctor.CategoryOrder {
		checks, exists := byCategory[category]
		if !exists || len(checks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, c := range checks {
			fix := "  "
			if c.CanFix() {
				fix = "🔧"
			}
			fmt.Fprintf(&b, "  %-16s %s %s\n", c.Name(), fix, c.Description())
		}
	}
	b.WriteString("\nChecks marked 🔧 can be fixed automatically with adjutant doctor --fix\n")
	b.WriteString("\nExamples:\n")
	b.WriteString("  adjutant doctor                   # Run all checks\n")
	b.WriteString("  adjutant doctor bd-binary         # Run one check\n")
	b.WriteString("  adjutant doctor storage           # Run a category\n")
	b.WriteString("  adjutant doctor config-file --fix # Run and fix one check")
	return b.String()
}

func completeDoctorArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, c := range doctor.DefaultChecks() {
		completions = append(completions, c.Name())
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := &doctor.CheckContext{
		Config:     cfg,
		ConfigPath: cfgPath,
		Verbose:    doctorVerbose,
	}

	filtered := doctor.FilterChecks(doctor.DefaultChecks(), args)
	if len(filtered.Unmatched) > 0 {
		return fmt.Errorf("unknown checks or categories: %s", strings.Join(filtered.Unmatched, ", "))
	}

	d := doctor.NewDoctor()
	d.RegisterAll(filtered.Matched...)

	var slowThreshold time.Duration
	if doctorSlow != "" {
		slowThreshold, err = time.ParseDuration(doctorSlow)
		if err != nil {
			return fmt.Errorf("invalid --slow threshold %q", doctorSlow)
		}
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd())) && ui.ShouldUseColor()

	var report *doctor.Report
	if doctorFix {
		report = d.FixStreaming(ctx, os.Stdout, slowThreshold, isTTY)
	} else {
		report = d.RunStreaming(ctx, os.Stdout, slowThreshold, isTTY)
	}

	report.Print(os.Stdout, doctorVerbose)
	if report.HasErrors() {
		return fmt.Errorf("%d checks failed", report.Summary.Errors)
	}
	return nil
}
