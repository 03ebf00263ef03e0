package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "satunaskah",
		Usage: "Collaborative document store and headless editor",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the document store server",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to config file",
						Value:   "config.yaml",
						Sources: cli.EnvVars("APP_CONFIG_FILE"),
					},
					&cli.BoolFlag{
						Name:  "migrate",
						Usage: "Create missing tables before serving",
					},
				},
			},
			{
				Name:      "attach",
				Usage:     "Open a document in a terminal editing session",
				ArgsUsage: "<document-id|new>",
				Action:    attach,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Usage:   "Store server base URL",
						Value:   "http://localhost:8080",
						Sources: cli.EnvVars("SATUNASKAH_SERVER"),
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Access token (JWT)",
						Sources: cli.EnvVars("SATUNASKAH_TOKEN"),
					},
					&cli.DurationFlag{
						Name:  "autosave",
						Usage: "Autosave interval",
						Value: 30 * time.Second,
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "Log level (debug, info, warn, error)",
						Value: "warn",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "satunaskah: %v\n", err)
		os.Exit(1)
	}
}
