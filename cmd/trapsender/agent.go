// cmd/trapsender/agent.go
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/trapsender/internal/agent"
	"github.com/signalnine/trapsender/internal/atlas"
	"github.com/signalnine/trapsender/internal/status"
	"github.com/signalnine/trapsender/internal/trapper"
)

func (a *app) newAgent(observers ...trapper.Observer) (*agent.Agent, error) {
	s, err := a.sender(observers...)
	if err != nil {
		return nil, err
	}
	acfg := a.cfg.Atlas
	client := atlas.NewClient(acfg.BaseURLs, acfg.APIKey, acfg.Timeout, a.logger)
	return agent.New(a.cfg, s, client, a.logger), nil
}

func newAtlasCmd(a *app) *cobra.Command {
	var msm int
	var host string

	cmd := &cobra.Command{
		Use:   "atlas",
		Short: "Fetch one measurement status check and upload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if msm != 0 {
				a.cfg.Atlas.MeasurementID = msm
			}
			if host != "" {
				a.cfg.Atlas.Host = host
			}
			ag, err := a.newAgent()
			if err != nil {
				return err
			}
			rep, err := ag.RunOnce(cmd.Context())
			if rep != nil {
				printReport(cmd.OutOrStdout(), rep)
			}
			if err != nil {
				return rejected(err)
			}
			if a.flags.raise {
				return a.check(append([]*trapper.Response{rep.Discovery}, rep.Items...)...)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&msm, "msm", "m", 0, "measurement id (overrides config)")
	cmd.Flags().StringVarP(&host, "host", "n", "", "monitored host name (overrides config)")
	return cmd
}

func printReport(w io.Writer, rep *agent.Report) {
	fmt.Fprintf(w, "probes: %d\n", rep.Probes)
	if rep.Discovery != nil {
		fmt.Fprintf(w, "discovery: %s\n", rep.Discovery)
	}
	for i, resp := range rep.Items {
		if resp != nil {
			fmt.Fprintf(w, "chunk %d: %s\n", i+1, resp)
		}
	}
	for _, resp := range rep.Resent {
		fmt.Fprintf(w, "resend: %s\n", resp)
	}
}

func newAgentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Upload the configured measurement every poll interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := status.NewMetrics()
			ag, err := a.newAgent(metrics)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return ag.Run(ctx)
			})
			if a.cfg.Status.ListenAddr != "" {
				db, err := a.openHistory()
				if err != nil {
					return err
				}
				srv := status.NewServer(a.cfg.Status, db, metrics, a.logger)
				g.Go(func() error {
					return srv.Run(ctx)
				})
			}
			return g.Wait()
		},
	}
}
