package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresuchdata/supplyplan/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logger.Log.Debug().Err(err).Msg("no .env file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("planner failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "planner",
		Usage: "Reconcile supply chain data, compute KPIs, optimize allocation and compare scenarios",
		Commands: []*cli.Command{
			{
				Name:  "kpi",
				Usage: "Compute fill rate, OTIF and days of cover for the baseline",
				Flags: append(commonFlags(),
					&cli.BoolFlag{
						Name:  "plan",
						Usage: "Measure fulfilment against an optimized allocation plan",
					},
				),
				Action: runKPI,
			},
			{
				Name:   "optimize",
				Usage:  "Solve the baseline allocation and write the plan",
				Flags:  commonFlags(),
				Action: runOptimize,
			},
			{
				Name:  "scenarios",
				Usage: "Run the baseline and every scenario in a YAML file in parallel",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Scenario set YAML file",
						EnvVars: []string{"APP_SCENARIO_FILE"},
					},
				),
				Action: runScenarios,
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Directory containing inventory.csv, orders.csv and the optional tables",
			EnvVars: []string{"APP_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Directory the report files are written to",
			EnvVars: []string{"APP_OUTPUT_DIR"},
		},
		&cli.Float64Flag{
			Name:    "cost-weight",
			Usage:   "Transport cost weight λ in the allocation objective",
			EnvVars: []string{"OPTIMIZER_COST_WEIGHT"},
		},
		&cli.StringFlag{
			Name:    "policy",
			Usage:   "Quarantine policy: warn or strict",
			EnvVars: []string{"RECONCILE_QUARANTINE_POLICY"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Scenarios solved in parallel",
			EnvVars: []string{"PIPELINE_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:  "json-logs",
			Usage: "Write logs as JSON instead of the console format",
		},
	}
}
