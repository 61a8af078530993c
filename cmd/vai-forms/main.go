package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-forms/pkg/store"
)

type cliDeps struct {
	loadEnvFile  func(path string) error
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, lifecycle.Check, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDeps() cliDeps {
	return cliDeps{
		loadEnvFile: loadDotenv,
		loadConfig:  config.LoadFromEnv,
		openStore:   openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// loadDotenv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func newRootCmd(deps cliDeps) *cobra.Command {
	var (
		envFile string
		logJSON bool
	)
	root := &cobra.Command{
		Use:   "vai-forms",
		Short: "Voice form sessions over Gemini Live",
		Long: `vai-forms runs conversational voice forms: a browser streams audio over a
websocket, the gateway relays it to Gemini Live, walks the form one field at
a time and delivers the validated answers to the form's signed webhook.

Examples:
  vai-forms serve --forms ./forms
  vai-forms migrate
  vai-forms forms validate ./forms
  vai-forms deliveries retry s_0123abcd`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if deps.loadEnvFile == nil {
				return nil
			}
			return deps.loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")

	newLogger := func(cmd *cobra.Command) *slog.Logger {
		if logJSON {
			return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))
		}
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}

	root.AddCommand(
		serveCmd(deps, newLogger),
		migrateCmd(deps, newLogger),
		formsCmd(),
		deliveriesCmd(deps, newLogger),
	)
	return root
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-forms: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}
