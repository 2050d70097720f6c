// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/bizkb"
	"github.com/poiesic/bizkb/config"
	"github.com/poiesic/bizkb/search"
	"github.com/poiesic/bizkb/watch"
	"github.com/urfave/cli/v2"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the CLI. extra options are applied after the configured
// ones when a knowledge base is opened.
func newApp(out io.Writer, extra ...bizkb.Option) *cli.App {
	r := &runner{out: out, extra: extra}
	return &cli.App{
		Name:      "kbctl",
		Usage:     "Manage business knowledge bases and search across them",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   config.DefaultFile,
			},
			&cli.StringFlag{
				Name:    "base-dir",
				Aliases: []string{"b"},
				Usage:   "Knowledge base directory (overrides the configuration)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a business",
				ArgsUsage: "<business-id>",
				Action:    r.create,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name (defaults to the ID)"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Free-form description"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a business with its documents and index",
				ArgsUsage: "<business-id>",
				Action:    r.delete,
			},
			{
				Name:   "list",
				Usage:  "List businesses",
				Action: r.list,
			},
			{
				Name:      "info",
				Usage:     "Show a business and its active documents",
				ArgsUsage: "<business-id>",
				Action:    r.info,
			},
			{
				Name:      "add",
				Usage:     "Add documents to a business",
				ArgsUsage: "<business-id> <file>...",
				Action:    r.add,
			},
			{
				Name:      "remove",
				Usage:     "Remove a document from a business and rebuild its index",
				ArgsUsage: "<business-id> <document-id>",
				Action:    r.remove,
			},
			{
				Name:      "sync",
				Usage:     "Validate and repair one business, or all of them",
				ArgsUsage: "[business-id]",
				Action:    r.sync,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON"},
				},
			},
			{
				Name:      "status",
				Usage:     "Check a business without repairing it",
				ArgsUsage: "<business-id>",
				Action:    r.status,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON"},
				},
			},
			{
				Name:      "search",
				Usage:     "Search a business, optionally expanding to related businesses",
				ArgsUsage: "<business-id> <query>...",
				Action:    r.search,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "expand", Aliases: []string{"e"}, Usage: "Also search related businesses"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Response mode (compact, detailed)", Value: string(search.ModeCompact)},
					&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Hits per business (0 uses the configuration)"},
					&cli.IntFlag{Name: "max-related", Usage: "Related businesses to search (0 uses the configuration)"},
				},
			},
			{
				Name:      "related",
				Usage:     "Show the businesses related to a business",
				ArgsUsage: "<business-id>",
				Action:    r.related,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Usage: "Maximum number of relations (0 for all)", Value: 10},
				},
			},
			{
				Name:      "link",
				Usage:     "Record a manual relation between two businesses",
				ArgsUsage: "<business-id> <business-id>",
				Action:    r.link,
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "weight", Aliases: []string{"w"}, Usage: "Relation weight", Value: 1},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the index of every business",
				Action: r.reindex,
			},
			{
				Name:      "watch",
				Usage:     "Sync businesses whenever their documents change",
				ArgsUsage: "[business-id]...",
				Action:    r.watch,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "debounce", Usage: "Quiet period before a sync", Value: watch.DefaultDebounce},
				},
			},
			{
				Name:   "init-config",
				Usage:  "Write a configuration file with default values",
				Action: r.initConfig,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing file"},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads the configuration named by --config and applies --base-dir.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("base-dir"); dir != "" {
		cfg.BaseDir = dir
	}
	return cfg, nil
}

// errUsage reports a missing or malformed positional argument.
var errUsage = errors.New("usage")

func usageError(c *cli.Context) error {
	return fmt.Errorf("%w: %s %s %s", errUsage, c.App.Name, c.Command.Name, c.Command.ArgsUsage)
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
