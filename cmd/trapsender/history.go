// cmd/trapsender/history.go
package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/trapsender/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var failed bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges from the history ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openHistory()
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("no history_db configured")
			}

			var records []history.Record
			if failed {
				records, err = db.Failed(cmd.Context(), limit)
			} else {
				records, err = db.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tADDR\tITEMS\tPROCESSED\tFAILED\tTOTAL\tOUTCOME\tDETAIL")
			for _, r := range records {
				detail := r.Error
				if detail == "" {
					detail = r.RawResponse
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					r.At.Local().Format(time.DateTime), r.Addr, r.Items,
					r.Processed, r.Failed, r.Total, r.Outcome(), detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "only exchanges with rejected items or errors")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}
