package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

type rootFlags struct {
	seed         int64
	replications int
	parallelism  int
	maxTime      float64
	configFile   string
	logLevel     string

	record         string
	clickHouseAddr string
	clickHouseDB   string

	monitor     bool
	monitorPort int
	openBrowser bool

	traceStdout bool
	logEvents   bool
}

var flags rootFlags

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "desim",
	Short: "Run discrete-event simulation models.",
	Long: `desim runs the example models of the desim engine. Each model can ` +
		`run several independent replications in parallel, record the ` +
		`executed events, and expose a monitoring server while it runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logrus.ParseLevel(flags.logLevel)
		if err != nil {
			return err
		}

		logrus.SetLevel(level)

		if flags.replications < 1 {
			return fmt.Errorf("--replications must be at least 1, got %d",
				flags.replications)
		}

		return nil
	},
}

func init() {
	loadDotEnv()

	pf := rootCmd.PersistentFlags()

	pf.Int64Var(&flags.seed, "seed", 1,
		"Seed of the first replication. Replication i uses seed+i.")
	pf.IntVar(&flags.replications, "replications", 1,
		"Number of independent replications.")
	pf.IntVar(&flags.parallelism, "parallelism", 0,
		"Replications run at the same time. 0 uses every CPU.")
	pf.Float64Var(&flags.maxTime, "max-time", 0,
		"Stop each replication before the first event at or after this "+
			"simulated time. 0 runs until the model completes.")
	pf.StringVar(&flags.configFile, "config", "",
		"YAML file with the model parameters.")
	pf.StringVar(&flags.logLevel, "log-level", envOr("DESIM_LOG_LEVEL", "info"),
		"Log level: trace, debug, info, warn, or error.")
	pf.StringVar(&flags.record, "record", "",
		"Record executed events into the SQLite file <record>.sqlite3.")
	pf.StringVar(&flags.clickHouseAddr, "clickhouse", os.Getenv("DESIM_CLICKHOUSE_ADDR"),
		"Record executed events into the ClickHouse server at this address "+
			"instead of SQLite.")
	pf.StringVar(&flags.clickHouseDB, "clickhouse-db", envOr("DESIM_CLICKHOUSE_DB", "default"),
		"ClickHouse database.")
	pf.BoolVar(&flags.monitor, "monitor", false,
		"Serve the monitoring dashboard while the replications run.")
	pf.IntVar(&flags.monitorPort, "monitor-port", 0,
		"Port of the monitoring server. 0 picks a free port.")
	pf.BoolVar(&flags.openBrowser, "open", false,
		"Open the monitoring dashboard in the browser.")
	pf.BoolVar(&flags.traceStdout, "trace-stdout", false,
		"Export an OpenTelemetry span per event to stdout.")
	pf.BoolVar(&flags.logEvents, "log-events", false,
		"Log every executed event at debug level.")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	return fallback
}

// loadDotEnv reads .env from the working directory, if there is one.
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env")
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
