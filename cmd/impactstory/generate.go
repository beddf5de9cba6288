package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/compose"
	"github.com/TobiSchelling/ImpactStory/internal/pipeline"
	"github.com/TobiSchelling/ImpactStory/internal/server"
	"github.com/TobiSchelling/ImpactStory/internal/telemetry"
)

// --- generate command ---

var (
	userContext  string
	outputFormat string
)

var generateCmd = &cobra.Command{
	Use:   "generate <organization>",
	Short: "Generate a fact-checked impact story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := buildRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		tty := isatty.IsTerminal(os.Stdout.Fd())
		if tty && outputFormat == "text" {
			fmt.Printf("Running pipeline for %s (internal data, research, synthesis, validation)...\n", args[0])
		}

		res, err := runner.Run(cmd.Context(), args[0], userContext)
		if err != nil {
			return err
		}
		return printResult(res, tty)
	},
}

func printResult(res *pipeline.Result, tty bool) error {
	switch outputFormat {
	case "text":
		fmt.Print(compose.Text(res))
	case "markdown":
		if !tty {
			fmt.Print(compose.Markdown(res))
			return nil
		}
		out, err := compose.Terminal(res, compose.TextWidth+15, true)
		if err != nil {
			return err
		}
		fmt.Print(out)
	case "html":
		out, err := compose.HTML(res)
		if err != nil {
			return err
		}
		fmt.Print(out)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		return fmt.Errorf("unknown format %q (want text, markdown, html or json)", outputFormat)
	}
	return nil
}

func init() {
	generateCmd.Flags().StringVar(&userContext, "context", "", "Donor request or extra context, e.g. 'A donor gave $100'")
	generateCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text, markdown, html or json")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve story generation over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics := telemetry.New()
		runner, cleanup, err := buildRunner(cmd.Context(), pipeline.WithRecorder(metrics))
		if err != nil {
			return err
		}
		defer cleanup()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv := server.New(runner, server.Options{
			JWTSecret: []byte(cfg.Secrets().JWTSecret),
			Metrics:   metrics.Handler(),
			Logger:    logger,
		})
		return srv.Serve(cmd.Context(), fmt.Sprintf("127.0.0.1:%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (overrides server.port)")
}

// --- token command ---

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := cfg.Secrets().JWTSecret
		if secret == "" {
			return fmt.Errorf("no JWT secret: set the %s environment variable", cfg.Server.JWTSecretEnv)
		}
		tok, err := server.SignToken(args[0], []byte(secret), tokenTTL)
		if err != nil {
			return err
		}
		logger.Debug("token issued", zap.String("subject", args[0]), zap.Duration("ttl", tokenTTL))
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
