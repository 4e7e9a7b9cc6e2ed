// Command novelforge runs the long-form fiction generation pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/budget"
	"github.com/randalmurphal/novelforge/pkg/pipeline/checkpoint"
	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/observability"
	"github.com/randalmurphal/novelforge/pkg/pipeline/stages"
)

var rootCmd = &cobra.Command{
	Use:           "novelforge",
	Short:         "Checkpointed multi-stage novel generation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(pipeerrors.ExitCode(err))
	}
}

func registerCommands() {
	rootCmd.AddCommand(
		newRunCmd(),
		newReportCmd(),
		newResetCmd(),
	)
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		projectDir string
		resume     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for a project, optionally resuming from its last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := filepath.Abs(projectDir)
			if err != nil {
				return fmt.Errorf("resolve project dir: %w", err)
			}
			if configPath == "" {
				configPath = filepath.Join(projectDir, "novelforge.yml")
			}
			cfg, err := config.FromFile(configPath)
			if err != nil {
				return err
			}

			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			manager := checkpoint.NewManager(store, projectDir)

			client, err := buildClient(cfg)
			if err != nil {
				return err
			}

			plan, err := stages.BuildPlan(&cfg)
			if err != nil {
				return err
			}
			orch, err := pipeline.New(plan, manager, projectDir,
				pipeline.WithMetrics(observability.NewMetricsRecorder()),
				pipeline.WithSpans(observability.NewSpanManager()))
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ledger := budget.NewLedger(cfg.Budget.CapUSD)
			ctx := pipeline.NewContext(sigCtx,
				pipeline.WithLogger(newLogger(verbose)),
				pipeline.WithLLM(client),
				pipeline.WithLedger(ledger),
				pipeline.WithPolicy(cfg.Policy()),
				pipeline.WithConfig(&cfg))

			report, _, runErr := orch.Run(ctx, resume)
			if report != nil {
				if path, werr := report.Write(projectDir); werr != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", werr)
				} else {
					fmt.Printf("report written to %s\n", path)
				}
				report.Render(os.Stdout)
			}
			if runErr != nil {
				printHalt(report, runErr, ledger, configPath, projectDir)
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default <project>/novelforge.yml)")
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the project's last checkpoint")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newReportCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the last run report for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pipeline.ReadReport(projectDir)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s\n", r.RunID, r.Status)
			r.Render(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	return cmd
}

func newResetCmd() *cobra.Command {
	var (
		configPath string
		projectDir string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a project's checkpoints so the next run starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all checkpoints for %s; re-run with --yes to confirm", projectDir)
			}
			projectDir, err := filepath.Abs(projectDir)
			if err != nil {
				return fmt.Errorf("resolve project dir: %w", err)
			}
			if configPath == "" {
				configPath = filepath.Join(projectDir, "novelforge.yml")
			}
			cfg, err := config.FromFile(configPath)
			if err != nil {
				return err
			}

			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := checkpoint.NewManager(store, projectDir).Delete(); err != nil {
				return err
			}
			fmt.Printf("checkpoints deleted for %s\n", projectDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default <project>/novelforge.yml)")
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// --- helpers ---

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildStore(cfg config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "file":
		return checkpoint.NewFileStore(), nil
	case "sqlite":
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func buildClient(cfg config.Config) (llm.Client, error) {
	switch cfg.LLM.Backend {
	case "claude":
		return llm.NewClaudeCLI(
			llm.WithModel(cfg.LLM.Model),
			llm.WithTimeout(cfg.LLM.Timeout.Std()),
			llm.WithCostPerKToken(cfg.LLM.CostPerKToken),
		), nil
	case "scripted":
		return dryRunClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.LLM.Backend)
	}
}

// dryRunClient answers every request with canned, structurally valid
// output at zero cost. It exercises the full pipeline, checkpoints
// included, without a model.
func dryRunClient(cfg config.Config) llm.Client {
	return llm.NewScriptedClient("scripted", func(call int, req llm.Request) (*llm.Response, error) {
		var content string
		switch {
		case strings.Contains(req.SystemPrompt, "high-concept"):
			content = fmt.Sprintf(`{"title": %q, "logline": "A placeholder premise long enough to pass validation, produced by the dry-run backend."}`,
				cfg.Project.Title)
		case strings.Contains(req.SystemPrompt, "story architect"):
			content = dryRunOutline(cfg)
		case strings.Contains(req.SystemPrompt, "character designer"):
			content = `[{"name": "Avery", "role": "protagonist", "bio": "placeholder", "voice": "plain"},
{"name": "Noor", "role": "foil", "bio": "placeholder", "voice": "wry"}]`
		default:
			content = "Placeholder prose for a dry run. Nothing here was written by a model."
		}
		return &llm.Response{Content: content, TokensUsed: len(content) / 4}, nil
	})
}

func dryRunOutline(cfg config.Config) string {
	povs := []string{"Avery", "Noor"}
	var b strings.Builder
	b.WriteString(`{"premise": "dry run", "chapters": [`)
	for ch := 1; ch <= cfg.Project.Chapters; ch++ {
		if ch > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"chapter": %d, "title": "Chapter %d", "summary": "placeholder", "scenes": [`, ch, ch)
		for s := 1; s <= cfg.Project.ScenesPerChapter; s++ {
			if s > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"scene_number": %d, "pov": %q, "summary": "placeholder"}`,
				s, povs[(ch+s)%len(povs)])
		}
		b.WriteString("]}")
	}
	b.WriteString("]}")
	return b.String()
}

func printHalt(report *pipeline.RunReport, err error, ledger *budget.Ledger, configPath, projectDir string) {
	stage := "unknown"
	if report != nil && report.LastStage != "" {
		stage = report.LastStage
	}
	fmt.Fprintf(os.Stderr, "run halted at stage %s (%s): %v\n",
		stage, haltKind(err), err)

	if pipeerrors.Categorize(err) == pipeerrors.CategoryBudget {
		fmt.Fprintf(os.Stderr, "spent $%.4f of the $%.4f cap; raise budget.cap_usd and resume\n",
			ledger.SpentUSD(), ledger.CapUSD())
	}
	fmt.Fprintf(os.Stderr, "resume with: novelforge run --config %s --project %s --resume\n",
		configPath, projectDir)
}

func haltKind(err error) string {
	var interrupted *pipeerrors.InterruptedError
	if pipeerrors.As(err, &interrupted) {
		return "interrupted"
	}
	return pipeerrors.Categorize(err).String()
}
