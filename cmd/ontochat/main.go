package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nuri428/ontology-chat/internal/app"
	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/router"
)

const version = "v0.4.0"

var (
	flagConfig  string
	flagLogJSON bool
	flagDebug   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ontochat",
		Short:   "Korean equities Q&A engine: query routing and retrieval fusion",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
			if err := godotenv.Load(); err == nil {
				log.Debug().Msg("loaded .env")
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "log JSON instead of console format")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd(), queryCmd(), cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if flagDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if !flagLogJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.Default(), nil
}

func buildApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- a.Run() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return a.Shutdown(ctx)
		},
	}
}

func queryCmd() *cobra.Command {
	var forceDeep bool
	var depth string
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Answer one query from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Shutdown(ctx)
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), 200*time.Second)
			defer cancel()

			q := router.Query{Text: args[0], ForceDeep: forceDeep, Depth: depth}
			var resp *renderResponse
			if depth != "" {
				r, err := a.Router.RouteDeep(ctx, q, nil)
				if err != nil {
					return err
				}
				resp = &renderResponse{r.Markdown, r.Meta.ProcessingMethod, r.Meta.ProcessingTimeMS}
			} else {
				r, err := a.Router.Route(ctx, q, nil)
				if err != nil {
					return err
				}
				resp = &renderResponse{r.Markdown, r.Meta.ProcessingMethod, r.Meta.ProcessingTimeMS}
			}

			fmt.Println(resp.markdown)
			log.Info().Str("method", resp.method).Int64("elapsed_ms", resp.elapsedMS).Msg("answered")
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceDeep, "deep", false, "force the deep analysis path")
	cmd.Flags().StringVar(&depth, "depth", "", "explicit analysis depth (shallow|standard|deep|comprehensive)")
	return cmd
}

type renderResponse struct {
	markdown  string
	method    string
	elapsedMS int64
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or flush the response cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache statistics as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := buildApp()
				if err != nil {
					return err
				}
				stats := a.Cache.Stats(cmd.Context())
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:   "flush [layer]",
			Short: "Flush every cache layer, or one of l1, l2, l3",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := buildApp()
				if err != nil {
					return err
				}
				if len(args) == 1 {
					a.Cache.FlushLayer(cmd.Context(), args[0])
					log.Info().Str("layer", args[0]).Msg("cache layer flushed")
				} else {
					a.Cache.Flush(cmd.Context())
					log.Info().Msg("cache flushed")
				}
				return nil
			},
		},
	)
	return cmd
}
