package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"clipforge/internal/auth"
	"clipforge/internal/config"
	"clipforge/internal/gateway"
	"clipforge/internal/logging"
	"clipforge/internal/orchestrator"
	"clipforge/internal/promo"
	"clipforge/internal/store"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger

	app      *orchestrator.Orchestrator
	db       *store.Store
	cfg      *config.Config
	lastCtx  context.Context
	shutdown context.CancelFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "clipforge",
	Short: "clipforge - Viral campaign orchestrator",
	Long: `clipforge turns long-form video into short viral clip campaigns.

It asks a generative AI service for clip candidates, renders
platform-specific cover assets concurrently, and drives an independent
publish state machine per social platform while keeping the campaign and
public profile link collections consistent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if verbose {
			logging.Enable(filepath.Join(workspace, ".clipforge", "logs"))
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		if len(cfg.Gateway.APIKeys) == 0 {
			return fmt.Errorf("no API key configured (set CLIPFORGE_API_KEY or gateway.api_keys)")
		}

		db, err = store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}

		keys := auth.NewKeyRing(cfg.Gateway.APIKeys)
		gw := gateway.NewGeminiClient(gateway.GeminiConfig{
			Keys:       keys,
			BaseURL:    cfg.Gateway.BaseURL,
			Model:      cfg.Gateway.Model,
			ImageModel: cfg.Gateway.ImageModel,
			Timeout:    cfg.GatewayTimeout(),
			Retry: gateway.RetryPolicy{
				MaxRetries: cfg.Retry.MaxRetries,
				Base:       cfg.RetryBackoffBase(),
				Max:        cfg.RetryBackoffMax(),
				Retryable:  gateway.IsRateLimited,
			},
		})
		app = orchestrator.New(gw, db, keys)

		lastCtx, shutdown = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdown != nil {
			shutdown()
		}
		if db != nil {
			_ = db.Close()
		}
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// suggestCmd asks for clip candidates.
var suggestCmd = &cobra.Command{
	Use:   "suggest <video-ref>",
	Short: "Ask the AI for viral clip candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		candidates, err := app.Suggest(lastCtx, args[0], notes, nil)
		if err != nil {
			return reportFailure(err)
		}
		if len(candidates) == 0 {
			fmt.Println("No suggestions found.")
			return nil
		}
		for i, c := range candidates {
			fmt.Printf("%d. [%ds-%ds] %s\n   %s\n   %s\n", i+1, c.Start, c.End, c.ViralTitle, c.Caption, c.Reasoning)
		}
		return nil
	},
}

// launchCmd creates a campaign from explicit clip parameters.
var launchCmd = &cobra.Command{
	Use:   "launch <video-ref>",
	Short: "Launch a campaign for a clip window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetInt("start")
		end, _ := cmd.Flags().GetInt("end")
		caption, _ := cmd.Flags().GetString("caption")
		title, _ := cmd.Flags().GetString("title")
		desc, _ := cmd.Flags().GetString("description")
		target, _ := cmd.Flags().GetString("target-url")
		nsfw, _ := cmd.Flags().GetBool("nsfw")

		candidate := promo.ClipCandidate{
			ID:               promo.NewID(),
			Start:            start,
			End:              end,
			Caption:          caption,
			ViralTitle:       title,
			ViralDescription: desc,
		}
		c, err := app.Launch(lastCtx, candidate, args[0], target, nsfw)
		if err != nil {
			return reportFailure(err)
		}
		fmt.Printf("Launched campaign %s (%d platforms, all draft)\n", c.ID, len(c.Platforms))
		return nil
	},
}

// deployCmd publishes one platform.
var deployCmd = &cobra.Command{
	Use:   "deploy <campaign-id> <platform>",
	Short: "Publish a campaign on one platform",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := promo.Platform(strings.ToLower(args[1]))
		if err := app.Deploy(lastCtx, args[0], platform); err != nil {
			return reportFailure(err)
		}
		fmt.Printf("Published %s on %s\n", args[0], platform)
		return nil
	},
}

// deployAllCmd publishes every remaining draft platform.
var deployAllCmd = &cobra.Command{
	Use:   "deploy-all <campaign-id>",
	Short: "Publish a campaign on all remaining draft platforms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.DeployAll(lastCtx, args[0]); err != nil {
			return reportFailure(err)
		}
		fmt.Printf("Deployed all remaining drafts for %s\n", args[0])
		return nil
	},
}

// listCmd shows campaigns newest-first.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		campaigns, err := app.List()
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			fmt.Println("No campaigns.")
			return nil
		}
		for _, c := range campaigns {
			fmt.Printf("%s  %-10s  [%ds-%ds]  %s\n", c.ID, c.Status, c.ClipStart, c.ClipEnd, c.ViralTitle)
			for _, e := range c.Platforms {
				ts := ""
				if e.PublishedAt != nil {
					ts = e.PublishedAt.Format(time.RFC3339)
				}
				fmt.Printf("    %-15s %-11s %s\n", e.Platform, e.Status, ts)
			}
		}
		return nil
	},
}

// linksCmd shows the public profile links.
var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List public profile links",
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := app.Links()
		if err != nil {
			return err
		}
		for _, l := range links {
			flags := string(l.Origin)
			if l.Hero {
				flags += ",hero"
			}
			if !l.Active {
				flags += ",inactive"
			}
			fmt.Printf("%s  [%s]  %s -> %s\n", l.ID, flags, l.Title, l.URL)
		}
		return nil
	},
}

// deleteCmd removes a campaign and its mirrored link.
var deleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete a campaign and its profile link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Delete(lastCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted campaign %s and its promo link\n", args[0])
		return nil
	},
}

// rotateKeyCmd is the quota-exhaustion recovery action.
var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Rotate the gateway credential and retry the last failed operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.RotateAndRetry(lastCtx); err != nil {
			return err
		}
		fmt.Println("Rotated credential and re-issued the failed operation.")
		return nil
	},
}

// reportFailure maps classified failures to user-facing messages.
func reportFailure(err error) error {
	if orchestrator.Classify(err) == orchestrator.FailureQuotaExhausted {
		return fmt.Errorf("quota exhausted: %v\nRun 'clipforge rotate-key' to rotate the credential and retry", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	suggestCmd.Flags().String("notes", "", "transcript or key takeaways for better accuracy")

	launchCmd.Flags().Int("start", 0, "clip start offset in seconds")
	launchCmd.Flags().Int("end", 0, "clip end offset in seconds")
	launchCmd.Flags().String("caption", "", "on-screen caption")
	launchCmd.Flags().String("title", "", "viral title")
	launchCmd.Flags().String("description", "", "viral description")
	launchCmd.Flags().String("target-url", "", "shoppable destination URL")
	launchCmd.Flags().Bool("nsfw", false, "mark the derived link NSFW")

	rootCmd.AddCommand(suggestCmd, launchCmd, deployCmd, deployAllCmd, listCmd, linksCmd, deleteCmd, rotateKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
