package commands

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rdmontgomery/exa/internal/cli/config"
	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/history"
	"github.com/rdmontgomery/exa/internal/lint"
	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/secret"
	"github.com/rdmontgomery/exa/internal/shell"
	"github.com/rdmontgomery/exa/pkg/core"
	"github.com/spf13/cobra"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format string // Output format: text, json
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run a project and environment health check",
		Long: `Check that this machine can run the project's builds.

The doctor command verifies the pieces a build depends on and reports:
- Project summary (pipeline, matrix size, store, shells)
- Health checks grouped by category (Environment, Pipeline, State)
- Health score (0-100)
- Actionable recommendations

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  exa doctor

  # Output as JSON
  exa doctor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, json")

	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Summary         ProjectSummary `json:"summary"`
	HealthChecks    []HealthCheck  `json:"health_checks"`
	Score           int            `json:"score"`
	Recommendations []string       `json:"recommendations"`
	IssueCount      int            `json:"issue_count"`
}

// ProjectSummary contains project-level statistics.
type ProjectSummary struct {
	Pipeline       string `json:"pipeline"`
	Jobs           int    `json:"jobs"`
	Platforms      int    `json:"platforms"`
	Configurations int    `json:"configurations"`
	Shells         string `json:"shells"`
	Store          string `json:"store"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	RuleID     string   `json:"rule_id"`
	Name       string   `json:"name"`
	Group      string   `json:"group"`
	Status     string   `json:"status"` // "pass", "warn", "error"
	IssueCount int      `json:"issue_count"`
	Details    []string `json:"details,omitempty"`
}

// pipelineConfig pairs a parsed pipeline with the file it came from.
type pipelineConfig struct {
	Config *schema.Config
	Path   string
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	// Override renderer if format flag is set
	if opts.Format != "" {
		r = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(opts.Format))
	}

	doctorOutput := buildDoctorOutput(cmd, cfg, cmdCtx)

	effectiveMode := r.EffectiveMode()
	switch effectiveMode {
	case output.ModeJSON:
		return r.JSON(doctorOutput)
	case output.ModeMarkdown:
		return renderDoctorMarkdown(r, doctorOutput)
	default:
		return renderDoctorText(r, doctorOutput)
	}
}

func buildDoctorOutput(cmd *cobra.Command, cfg *config.Config, cmdCtx *CommandContext) *DoctorOutput {
	var checks []HealthCheck

	availableShells := checkShells(&checks, cmdCtx)
	checkGit(&checks)
	checkWorkDir(&checks, cfg)

	pipeline := checkPipeline(&checks, cfg)
	if pipeline != nil {
		checkLint(&checks, pipeline)
		checkSecureValues(&checks, cfg, pipeline)
	}

	checkStore(&checks, cfg, cmdCtx)
	if cfg.HistoryURL != "" {
		checkHistoryAPI(&checks, cmd, cfg, cmdCtx)
	}

	// Sort health checks by group then by rule ID
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Group != checks[j].Group {
			return checks[i].Group < checks[j].Group
		}
		return checks[i].RuleID < checks[j].RuleID
	})

	summary := buildProjectSummary(cfg, pipeline, availableShells)
	score := calculateHealthScore(checks)
	recommendations := generateRecommendations(checks)

	issueCount := 0
	for _, c := range checks {
		issueCount += c.IssueCount
	}

	return &DoctorOutput{
		Summary:         summary,
		HealthChecks:    checks,
		Score:           score,
		Recommendations: recommendations,
		IssueCount:      issueCount,
	}
}

// checkShells verifies that the registered shells exist on this machine
// and returns the available ones.
func checkShells(checks *[]HealthCheck, cmdCtx *CommandContext) []string {
	var available, missing []string
	for _, name := range shell.Names() {
		sh, err := shell.New(name, cmdCtx.Logger)
		if err != nil {
			continue
		}
		if sh.Available() {
			available = append(available, name)
		} else {
			missing = append(missing, name)
		}
	}

	check := HealthCheck{
		RuleID: "ENV01",
		Name:   "shells available",
		Group:  "environment",
		Status: "pass",
	}
	if len(missing) > 0 {
		check.Status = "warn"
		check.IssueCount = len(missing)
		for _, name := range missing {
			check.Details = append(check.Details, fmt.Sprintf("shell %q not found on PATH", name))
		}
	}
	if len(available) == 0 {
		check.Status = "error"
		check.Details = append(check.Details, "no registered shell is available; jobs cannot run")
	}
	*checks = append(*checks, check)
	return available
}

// checkGit verifies git is present for branch and commit detection.
func checkGit(checks *[]HealthCheck) {
	check := HealthCheck{
		RuleID: "ENV02",
		Name:   "git present",
		Group:  "environment",
		Status: "pass",
	}
	if _, err := exec.LookPath("git"); err != nil {
		check.Status = "warn"
		check.IssueCount = 1
		check.Details = []string{"git not found; builds run without branch and commit metadata"}
	}
	*checks = append(*checks, check)
}

// checkWorkDir verifies the build workspace root is writable.
func checkWorkDir(checks *[]HealthCheck, cfg *config.Config) {
	check := HealthCheck{
		RuleID: "ENV03",
		Name:   "work directory writable",
		Group:  "environment",
		Status: "pass",
	}
	if err := os.MkdirAll(cfg.WorkDir, 0750); err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	} else if f, err := os.CreateTemp(cfg.WorkDir, "doctor-*"); err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	} else {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	*checks = append(*checks, check)
}

// checkPipeline parses and validates the pipeline file. Returns the
// parsed pipeline, or nil when it cannot be used.
func checkPipeline(checks *[]HealthCheck, cfg *config.Config) *pipelineConfig {
	check := HealthCheck{
		RuleID: "PIPE01",
		Name:   "pipeline file valid",
		Group:  "pipeline",
		Status: "pass",
	}

	pipeline, path, err := loadPipeline(cfg)
	if err == nil {
		err = pipeline.Validate()
	}
	if err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
		*checks = append(*checks, check)
		return nil
	}
	*checks = append(*checks, check)
	return &pipelineConfig{Config: pipeline, Path: path}
}

// checkLint reports lint findings at warning severity or above.
func checkLint(checks *[]HealthCheck, pipeline *pipelineConfig) {
	diags := lint.Check(pipeline.Config, lint.Options{Threshold: core.SeverityWarning})

	check := HealthCheck{
		RuleID: "PIPE02",
		Name:   "pipeline lints clean",
		Group:  "pipeline",
		Status: "pass",
	}
	if len(diags) > 0 {
		check.Status = "warn"
		if lint.HasSeverity(diags, core.SeverityError) {
			check.Status = "error"
		}
		check.IssueCount = len(diags)
		for _, d := range diags {
			check.Details = append(check.Details, fmt.Sprintf("%s: %s", d.RuleID, d.Message))
		}
	}
	*checks = append(*checks, check)
}

// checkSecureValues verifies secure values can actually be unsealed.
func checkSecureValues(checks *[]HealthCheck, cfg *config.Config, pipeline *pipelineConfig) {
	check := HealthCheck{
		RuleID: "PIPE03",
		Name:   "secure values decryptable",
		Group:  "pipeline",
		Status: "pass",
	}

	if pipeline.Config.HasSecureValues() {
		switch {
		case cfg.SecretIdentity == "":
			check.Status = "error"
			check.IssueCount = 1
			check.Details = []string{"pipeline has secure values but secret_identity is not configured"}
		default:
			if _, err := secret.LoadIdentityFile(cfg.SecretIdentity); err != nil {
				check.Status = "error"
				check.IssueCount = 1
				check.Details = []string{err.Error()}
			}
		}
	}
	*checks = append(*checks, check)
}

// checkStore verifies the history store opens with the configured DSN.
func checkStore(checks *[]HealthCheck, cfg *config.Config, cmdCtx *CommandContext) {
	check := HealthCheck{
		RuleID: "STATE01",
		Name:   "history store reachable",
		Group:  "state",
		Status: "pass",
	}

	eng, err := createEngine(cfg, cmdCtx.Logger, engineOptions{stdout: io.Discard, stderr: io.Discard})
	if err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	} else {
		_ = eng.Close()
	}
	*checks = append(*checks, check)
}

// checkHistoryAPI verifies the configured history endpoint answers.
func checkHistoryAPI(checks *[]HealthCheck, cmd *cobra.Command, cfg *config.Config, cmdCtx *CommandContext) {
	check := HealthCheck{
		RuleID: "STATE02",
		Name:   "history API reachable",
		Group:  "state",
		Status: "pass",
	}

	client := history.NewClient(cfg.HistoryURL, history.WithLogger(cmdCtx.Logger))
	if _, err := client.History(cmd.Context(), cfg.Account, cfg.Project, 1); err != nil {
		check.Status = "warn"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	}
	*checks = append(*checks, check)
}

func buildProjectSummary(cfg *config.Config, pipeline *pipelineConfig, shells []string) ProjectSummary {
	summary := ProjectSummary{
		Pipeline: cfg.Pipeline,
		Shells:   strings.Join(shells, ", "),
		Store:    storeKind(cfg.StateDSN),
	}
	if pipeline != nil {
		summary.Pipeline = pipeline.Path
		summary.Jobs = len(matrix.Expand(pipeline.Config))
		summary.Platforms = len(pipeline.Config.Platform)
		summary.Configurations = len(pipeline.Config.Configuration)
	}
	return summary
}

func storeKind(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case dsn == ":memory:":
		return "sqlite (in-memory)"
	default:
		return "sqlite"
	}
}

// calculateHealthScore computes a health score from 0-100. Warnings
// subtract per issue; errors count double.
func calculateHealthScore(checks []HealthCheck) int {
	if len(checks) == 0 {
		return 100
	}

	score := 100.0
	basePenalty := 10.0

	for _, check := range checks {
		switch check.Status {
		case "error":
			score -= float64(max(check.IssueCount, 1)) * basePenalty * 2
		case "warn":
			score -= float64(max(check.IssueCount, 1)) * basePenalty
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// generateRecommendations creates actionable recommendations based on findings.
func generateRecommendations(checks []HealthCheck) []string {
	var recommendations []string
	seen := make(map[string]bool)

	for _, check := range checks {
		if check.IssueCount == 0 {
			continue
		}
		rec := getRecommendation(check.RuleID)
		if rec != "" && !seen[rec] {
			recommendations = append(recommendations, rec)
			seen[rec] = true
		}
	}

	// Limit to top 5 recommendations
	if len(recommendations) > 5 {
		recommendations = recommendations[:5]
	}
	return recommendations
}

// getRecommendation returns a recommendation for a specific rule.
func getRecommendation(ruleID string) string {
	switch ruleID {
	case "ENV01":
		return "Install a supported shell (pwsh or sh) so jobs can run"
	case "ENV02":
		return "Install git so builds pick up branch and commit metadata"
	case "ENV03":
		return "Fix permissions on the work directory or point work_dir elsewhere"
	case "PIPE01":
		return "Fix the pipeline file; 'exa validate' shows the full error"
	case "PIPE02":
		return "Run 'exa lint' and review the findings"
	case "PIPE03":
		return "Point secret_identity at the age identity file that matches the pipeline's secure values"
	case "STATE01":
		return "Check state_dsn; the history store could not be opened"
	case "STATE02":
		return "Start 'exa serve' or fix history_url"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) error {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Exa Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	r.Println(styles.Header2.Render("Project Summary"))
	r.Printf("   Pipeline: %s | Jobs: %d | Platforms: %d | Configurations: %d\n",
		out.Summary.Pipeline, out.Summary.Jobs, out.Summary.Platforms, out.Summary.Configurations)
	r.Printf("   Store: %s | Shells: %s\n", out.Summary.Store, out.Summary.Shells)
	r.Println("")

	r.Println(styles.Header2.Render("Health Checks"))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.StatusFailed.String()
		}

		status := fmt.Sprintf("%s %s: %s", icon, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			status += fmt.Sprintf(" (%d issues)", check.IssueCount)
		}
		r.Println("   " + status)

		// Show first 3 details for issues
		for i, detail := range check.Details {
			if i >= 3 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-3)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) error {
	r.Println("# Exa Health Report")
	r.Println("")

	r.Println("## Project Summary")
	r.Println("")
	r.Printf("- **Pipeline**: %s\n", out.Summary.Pipeline)
	r.Printf("- **Jobs**: %d\n", out.Summary.Jobs)
	r.Printf("- **Platforms**: %d\n", out.Summary.Platforms)
	r.Printf("- **Configurations**: %d\n", out.Summary.Configurations)
	r.Printf("- **Store**: %s\n", out.Summary.Store)
	r.Printf("- **Shells**: %s\n", out.Summary.Shells)
	r.Println("")

	r.Println("## Health Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		status := "PASS"
		switch check.Status {
		case "warn":
			status = "WARN"
		case "error":
			status = "ERROR"
		}

		r.Printf("- **[%s]** %s: %s", status, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			r.Printf(" (%d issues)", check.IssueCount)
		}
		r.Println("")

		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	r.Println("## Health Score")
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println("## Recommendations")
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}
