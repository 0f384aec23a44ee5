package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/platform/batch"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch and write its stays and census",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Execute(ctx)
			if res != nil {
				printSummary(cmd, res)
			}
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

func printSummary(cmd *cobra.Command, res *batch.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", res.RunID)
	fmt.Fprintf(w, "window\t%s .. %s\n", res.WindowStart.Format("2006-01-02"), res.WindowEnd.Format("2006-01-02"))
	fmt.Fprintf(w, "encounters\t%d\n", res.Encounters)
	fmt.Fprintf(w, "events\t%d\n", res.Events)
	fmt.Fprintf(w, "stays\t%d\n", len(res.Stays))
	fmt.Fprintf(w, "rejected\t%d\n", len(res.Rejections))
	fmt.Fprintf(w, "census hours\t%d\n", len(res.Census.Rows))
	w.Flush()
}
