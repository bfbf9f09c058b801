// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/spotproxy/internal/formatter"
	"github.com/urfave/cli/v3"
)

var formatUsage = "Output format (" + strings.Join(formatter.Formats, ", ") + ")"

// serveCommand runs the HTTP proxy
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides [server] host and port",
			},
		},
		Action: r.Serve,
	}
}

// tokenCommand fetches an application token
func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Obtain an application token and print its expiry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "show",
				Usage: "Print the token value",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Token,
	}
}

// collectionsCommand aggregates playlist metadata
func collectionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "collections",
		Usage:     "Aggregate metadata for playlists (defaults to [collections] ids)",
		ArgsUsage: "[playlist ids or URLs...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   formatUsage,
				Value:   formatter.FormatJSON,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to a file instead of stdout",
			},
		},
		Action: r.Collections,
	}
}

// exportCommand exports one playlist's tracks
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a playlist's tracks to files",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "playlist",
				UsageText: "playlist id, URI or URL",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   formatUsage,
				Value:   formatter.FormatCSV,
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Output directory",
				Value:   ".",
			},
		},
		Action: r.Export,
	}
}

// apiCommand makes direct upstream calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct Web API calls with application credentials",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "GET an endpoint, e.g. /playlists/{id}, and print the response",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print JSON responses",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
		},
	}
}

// setupCommand prepares local state
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and storage",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write the example configuration file",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the sqlite session database and run migrations",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "purge-stale",
						Usage: "Also delete sessions not updated within this duration (e.g. 720h)",
					},
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Revert the most recent migration instead of migrating up",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}
