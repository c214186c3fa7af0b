package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/desim/examples/counter"
	"github.com/sarchlab/desim/examples/ecosystem"
	"github.com/sarchlab/desim/examples/queueing"
	"github.com/sarchlab/desim/hooking"
	"github.com/sarchlab/desim/replication"
	"github.com/sarchlab/desim/timing"
)

// withSession loads the model config, opens a session, and runs fn in it.
func withSession(
	cmd *cobra.Command,
	model string,
	fn func(s *session, cfg modelConfig) error,
) (err error) {
	cfg, err := loadModelConfig(flags.configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx, model)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, s.close())
	}()

	return fn(s, cfg)
}

func printSummaries(w io.Writer, title string, summaries ...queueing.Summary) {
	fmt.Fprintln(w, title)

	for _, summary := range summaries {
		fmt.Fprintf(w, "  %s\n", summary)
	}
}

func singleServerSummaries[T timing.Time[T]](stores []*queueing.Store[T]) []queueing.Summary {
	arrivals := make([]float64, 0, len(stores))
	served := make([]float64, 0, len(stores))
	maxQueue := make([]float64, 0, len(stores))

	for _, store := range stores {
		arrivals = append(arrivals, float64(store.Arrivals))
		served = append(served, float64(store.Served))
		maxQueue = append(maxQueue, float64(store.MaxQueueLength))
	}

	return []queueing.Summary{
		queueing.Summarize("arrivals", arrivals),
		queueing.Summarize("served", served),
		queueing.Summarize("max_queue_length", maxQueue),
	}
}

var mm1Cmd = &cobra.Command{
	Use:   "mm1",
	Short: "Single server queue with exponential interarrival and service times.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "mm1", func(s *session, cfg modelConfig) error {
			stores, err := replicate(s, secCutoff(),
				func(seed int64, hooks []hooking.Hook) (*timing.Simulation[*queueing.MM1Store, timing.VTimeInSec], error) {
					return queueing.NewMM1(cfg.MM1, queueing.Options{
						Seed:   seed,
						Logger: s.logger,
						Hooks:  hooks,
					})
				})
			if err != nil {
				return err
			}

			printSummaries(cmd.OutOrStdout(), "M/M/1", singleServerSummaries(stores)...)

			return nil
		})
	},
}

var gg1Cmd = &cobra.Command{
	Use:   "gg1",
	Short: "Single server queue with uniform interarrival and service times.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "gg1", func(s *session, cfg modelConfig) error {
			stores, err := replicate(s, cycleCutoff(),
				func(seed int64, hooks []hooking.Hook) (*timing.Simulation[*queueing.GG1Store, timing.VTimeInCycle], error) {
					return queueing.NewGG1(cfg.GG1, queueing.Options{
						Seed:   seed,
						Logger: s.logger,
						Hooks:  hooks,
					})
				})
			if err != nil {
				return err
			}

			printSummaries(cmd.OutOrStdout(), "G/G/1", singleServerSummaries(stores)...)

			return nil
		})
	},
}

var crnCmd = &cobra.Command{
	Use:   "crn",
	Short: "Compare server configurations on common random numbers.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "crn", func(s *session, cfg modelConfig) error {
			opts, done := s.runnerOptions()
			defer done()

			runner := replication.NewRunner[*queueing.CRNStore](opts...)

			attach := func(
				server queueing.ServerConfig,
				rep int,
				sim *timing.Simulation[*queueing.CRNStore, timing.VTimeInSec],
			) error {
				label := strings.ReplaceAll(server.Name, "/", "")
				return observe(s, fmt.Sprintf("%s-%s-%d", s.model, label, rep), sim)
			}

			results, err := queueing.CompareCRN(s.ctx, runner, cfg.CRN,
				flags.seed, flags.replications,
				queueing.Options{Logger: s.logger}, attach)

			for _, r := range results {
				if recErr := recordReplications(s, s.model+"/"+r.Config.Name, r.Runs); recErr != nil {
					return errors.Join(err, recErr)
				}
			}

			if err != nil {
				return err
			}

			for _, r := range results {
				printSummaries(cmd.OutOrStdout(), r.Config.Name,
					r.Served, r.TimeInLine, r.DiffTimeInLine)
			}

			return nil
		})
	},
}

var ecosystemCmd = &cobra.Command{
	Use:   "ecosystem",
	Short: "Population growth on finite food, with births on worker goroutines.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "ecosystem", func(s *session, cfg modelConfig) error {
			states, err := replicate(s, cycleCutoff(),
				func(_ int64, hooks []hooking.Hook) (*timing.Simulation[*ecosystem.Ecosystem, timing.VTimeInCycle], error) {
					return ecosystem.New(cfg.Ecosystem, s.logger, hooks...)
				})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, e := range states {
				fmt.Fprintf(w, "replication %d: population %d after %d generations, %d food left\n",
					i, e.Population.Load(), len(e.Generations), e.RemainingFood)
			}

			return nil
		})
	},
}

var counterCmd = &cobra.Command{
	Use:   "counter",
	Short: "Fixed arrivals and stays, counting who is present.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "counter", func(s *session, cfg modelConfig) error {
			states, err := replicate(s, secCutoff(),
				func(_ int64, hooks []hooking.Hook) (*timing.Simulation[*counter.State, timing.VTimeInSec], error) {
					return counter.New(cfg.Counter, hooks...)
				})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, st := range states {
				fmt.Fprintf(w, "replication %d: %d present, %d arrivals, %d departures\n",
					i, st.Present, st.Arrivals, st.Departures)
			}

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mm1Cmd, gg1Cmd, crnCmd, ecosystemCmd, counterCmd)
}
