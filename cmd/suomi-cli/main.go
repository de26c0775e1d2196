// Package main provides the command line client for the suomi-service API.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"
)

// Flag names and defaults.
const (
	flagServer       = "server"
	flagLogDir       = "log-dir"
	envServer        = "SUOMI_SERVER"
	defaultServerURL = "http://127.0.0.1:8080"
	logFileName      = "suomi-cli.log"
)

// cliState is shared by every subcommand once the root has set it up.
type cliState struct {
	serverURL string
	logDir    string
	log       *logger.Logger
	client    *apiClient
}

func newRootCmd() *cobra.Command {
	state := &cliState{serverURL: "", logDir: "", log: nil, client: nil}

	defaultServer := os.Getenv(envServer)
	if defaultServer == "" {
		defaultServer = defaultServerURL
	}

	rootCmd := &cobra.Command{
		Use:           "suomi-cli",
		Short:         "Translate and listen to Finnish from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			clientLog, err := logger.New(state.logDir, logFileName)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			state.log = clientLog
			state.client = newAPIClient(state.serverURL, clientLog)

			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if state.log == nil {
				return nil
			}

			return state.log.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&state.serverURL, flagServer, defaultServer,
		"suomi-service base URL (or "+envServer+")")
	rootCmd.PersistentFlags().StringVar(&state.logDir, flagLogDir, os.TempDir(), "directory for the client log")

	rootCmd.AddCommand(
		newTranslateCmd(state),
		newAnalyzeCmd(state),
		newSpeakCmd(state),
		newUsageCmd(state),
		newCacheCmd(state),
		newFavoritesCmd(state),
		newProgressCmd(state),
	)

	return rootCmd
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}
