// Command featmem operates a pattern memory engine from the command
// line: store patterns, search them, run recognition queries and
// inspect health, against a SQLite-persisted or in-memory engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexgrimes/featmem"
	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/persistence"
	"github.com/alexgrimes/featmem/pkg/serialization"
)

var (
	configPath string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "featmem",
	Short: "Pattern memory engine CLI",
	Long:  `Store feature-vector patterns, run approximate-match queries against them and inspect engine health.`,
}

var storeCmd = &cobra.Command{
	Use:   "store <pattern.json>",
	Short: "Validate and store a pattern from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read pattern file: %w", err)
		}
		var p pattern.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parse pattern JSON: %w", err)
		}

		return withSystem(func(ctx context.Context, sys *featmem.System) error {
			res := sys.StorePattern(ctx, p)
			if !res.Success {
				return fmt.Errorf("store failed (%s): %s", res.Kind, res.Error)
			}
			fmt.Printf("stored pattern %s\n", res.AffectedPatterns[0])
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored patterns by fuzzy criteria",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		category, _ := cmd.Flags().GetString("category")
		featuresJSON, _ := cmd.Flags().GetString("features")

		criteria := pattern.Criteria{Source: source, Category: category}
		if featuresJSON != "" {
			if err := json.Unmarshal([]byte(featuresJSON), &criteria.Features); err != nil {
				return fmt.Errorf("parse features JSON: %w", err)
			}
		}

		return withSystem(func(ctx context.Context, sys *featmem.System) error {
			res := sys.SearchPatterns(ctx, criteria)
			if !res.Success {
				return fmt.Errorf("search failed (%s): %s", res.Kind, res.Error)
			}
			return printJSON(res.Data)
		})
	},
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize <features.json>",
	Short: "Run a recognition query from a JSON feature map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read features file: %w", err)
		}
		var features map[string]pattern.Value
		if err := json.Unmarshal(data, &features); err != nil {
			return fmt.Errorf("parse features JSON: %w", err)
		}

		return withSystem(func(ctx context.Context, sys *featmem.System) error {
			res := sys.RecognizePattern(ctx, features)
			if !res.Success {
				return fmt.Errorf("recognition failed (%s): %s", res.Kind, res.Error)
			}
			fmt.Printf("confidence: %.3f, matches: %d", res.Confidence, len(res.Matches))
			if res.Partial {
				fmt.Print(" (partial: deadline reached)")
			}
			fmt.Println()
			return printJSON(res.Matches)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the engine's current health status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(func(ctx context.Context, sys *featmem.System) error {
			return printJSON(sys.GetHealth())
		})
	},
}

// withSystem builds an engine from the flags, runs fn and tears the
// engine down.
func withSystem(fn func(context.Context, *featmem.System) error) error {
	ctx := context.Background()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
	}

	var sink persistence.Sink = persistence.NewMemorySink()
	if dbPath != "" {
		sqlSink, err := persistence.NewSQLiteSink(ctx, dbPath, serialization.JSON())
		if err != nil {
			return err
		}
		sink = sqlSink
	}

	sys, err := featmem.New(ctx,
		featmem.WithConfig(cfg),
		featmem.WithLogger(logger),
		featmem.WithSink(sink),
	)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer func() { _ = sys.Close() }()

	return fn(ctx, sys)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults apply to unset fields)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database for persistence (default: in-memory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	searchCmd.Flags().String("source", "", "metadata source to match")
	searchCmd.Flags().String("category", "", "metadata category to match")
	searchCmd.Flags().String("features", "", "feature criteria as JSON")

	rootCmd.AddCommand(storeCmd, searchCmd, recognizeCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
