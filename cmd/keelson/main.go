package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const envFileVar = "KEELSON_ENV_FILE"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "keelson",
		Usage: "Enclose payloads in keelson envelopes and bridge them across brokers",
		// Flags read their EnvVars when parsed, so the env file is loaded first.
		Before: func(*cli.Context) error { return loadEnvFile() },
		Commands: []*cli.Command{
			{
				Name:   "publish",
				Usage:  "Enclose a payload and publish it",
				Flags:  publishFlags(),
				Action: publish,
			},
			{
				Name:   "subscribe",
				Usage:  "Subscribe to envelopes, print them as JSON lines and optionally archive them",
				Flags:  subscribeFlags(),
				Action: subscribe,
			},
			{
				Name:   "remove",
				Usage:  "Remove the archived envelopes of one entity",
				Flags:  removeFlags(),
				Action: remove,
			},
		},
	}
}

// loadEnvFile loads KEELSON_ENV_FILE, or .env when present. Variables already set in
// the environment win.
func loadEnvFile() error {
	path, explicit := os.LookupEnv(envFileVar)
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
