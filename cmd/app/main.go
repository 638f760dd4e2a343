package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/laguz/internal"
	pkgconfig "github.com/starford/laguz/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "laguz",
		Usage:  "Offline-first encrypted note stream with windowed loading and peer sync",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
