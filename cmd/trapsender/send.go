// cmd/trapsender/send.go
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/trapsender/internal/trapper"
)

func newSendCmd(a *app) *cobra.Command {
	var host, key, value string
	var clock int64

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.sender()
			if err != nil {
				return err
			}
			resp, err := trapper.NewItem(host, key, value, clock).Send(cmd.Context(), s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return a.check(resp)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "monitored host name")
	cmd.Flags().StringVar(&key, "key", "", "item key")
	cmd.Flags().StringVar(&value, "value", "", "item value")
	cmd.Flags().Int64Var(&clock, "clock", 0, "unix timestamp (default now)")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("value")
	return cmd
}

func newDiscoverCmd(a *app) *cobra.Command {
	var host, key string
	var rows []string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Send a low-level discovery record",
		Long: "Send a low-level discovery record. Each --row is one row of comma separated\n" +
			"name=value pairs; names are wrapped in the configured key template.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.sender()
			if err != nil {
				return err
			}
			lld := s.NewLLD(host, key)
			for _, r := range rows {
				row, err := parseRow(r)
				if err != nil {
					return err
				}
				lld.AddRow(row)
			}
			resp, err := lld.Send(cmd.Context(), s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return a.check(resp)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "monitored host name")
	cmd.Flags().StringVar(&key, "key", "", "discovery rule key")
	cmd.Flags().StringArrayVar(&rows, "row", nil, "discovery row as name=value[,name=value] (repeatable)")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("key")
	return cmd
}

// parseRow parses "A=1,B=2" into one discovery row
func parseRow(s string) (map[string]string, error) {
	row := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid row %q: want name=value pairs", s)
		}
		row[k] = v
	}
	return row, nil
}

func newBatchCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Send items from a JSON array or JSON lines file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			items, err := readBatch(r)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}

			s, err := a.sender()
			if err != nil {
				return err
			}
			batch := s.NewItems().AddItems(items)
			var results []*trapper.Response
			if c := a.cfg.Sender.Concurrency; c > 0 {
				results, err = batch.SendConcurrent(cmd.Context(), c)
			} else {
				results, err = batch.Send(cmd.Context())
			}
			for i, resp := range results {
				if resp != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "chunk %d: %s\n", i+1, resp)
				}
			}
			if err != nil {
				return err
			}

			if a.cfg.Sender.ResendSingles {
				for _, resp := range results {
					if resp.Failed == 0 {
						continue
					}
					singles, err := resp.ResendAsSingles(cmd.Context())
					for _, single := range singles {
						fmt.Fprintf(cmd.OutOrStdout(), "resend: %s\n", single)
					}
					if err != nil {
						a.logger.Warn("resend as singles incomplete", "error", err)
					}
				}
			}
			return a.check(results...)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "items file, - for stdin")
	return cmd
}

type batchItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	Clock int64  `json:"clock"`
}

// readBatch accepts either one JSON array of items or one item per line
func readBatch(r io.Reader) ([]trapper.Item, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	var raw []batchItem
	if first == '[' {
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	} else {
		for {
			var bi batchItem
			err := dec.Decode(&bi)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", len(raw)+1, err)
			}
			raw = append(raw, bi)
		}
	}

	items := make([]trapper.Item, 0, len(raw))
	for i, bi := range raw {
		if bi.Host == "" || bi.Key == "" {
			return nil, fmt.Errorf("item %d: host and key are required", i+1)
		}
		items = append(items, trapper.NewItem(bi.Host, bi.Key, bi.Value, bi.Clock))
	}
	return items, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
