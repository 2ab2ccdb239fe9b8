package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ruslan-starovoitov/dbpool"
)

type loadOptions struct {
	Workers int
	Repeat  int
	Fetch   bool
}

func newLoadCmd() *cobra.Command {
	var lo loadOptions
	cmd := &cobra.Command{
		Use:   "load <sql>",
		Short: "Run a statement repeatedly from concurrent workers and print pool statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := dbpool.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			facade := dbpool.NewPoolFacade()
			defer facade.Close()

			start := time.Now()
			if err := runLoad(cmd.Context(), facade, cfg, dbpool.Request{Query: args[0], Fetch: lo.Fetch}, lo); err != nil {
				return err
			}
			logrus.WithField("duration", time.Since(start)).Info("load finished")
			return writeJSON(cmd, facade.StatsOfAllPools())
		},
	}
	cmd.Flags().IntVarP(&lo.Workers, "workers", "w", 10, "Number of concurrent workers")
	cmd.Flags().IntVarP(&lo.Repeat, "repeat", "n", 10, "Statements per worker")
	cmd.Flags().BoolVar(&lo.Fetch, "fetch", false, "Fetch result rows")
	return cmd
}

// runLoad sends lo.Workers*lo.Repeat requests through the facade. The first
// failure stops the run.
func runLoad(ctx context.Context, facade *dbpool.PoolFacade, cfg dbpool.Config, req dbpool.Request, lo loadOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < lo.Workers; w++ {
		g.Go(func() error {
			for i := 0; i < lo.Repeat; i++ {
				if _, err := facade.Execute(gctx, cfg, req); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
