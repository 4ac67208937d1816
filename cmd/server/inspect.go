package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	id "dukcapil/pkg/domain"
)

func newIndexCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the NIK index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current index snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.indexRepository().Load(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, map[string]any{
					"content_id": snap.ContentID,
					"entries":    snap.Index.Map(),
				})
			}
			fmt.Fprintf(out, "index %s (%d entries)\n", orNone(snap.ContentID), snap.Index.Len())
			for _, nik := range snap.Index.NIKs() {
				cid, _ := snap.Index.Lookup(nik)
				fmt.Fprintf(out, "  %s  %s\n", nik, cid)
			}
			return nil
		},
	})
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect card lineage history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <card-number>",
		Short: "Print the retained history of one card lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := id.ParseCardNumber(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ptr, err := a.ledger.HistoryPointer(ctx, card)
			if err != nil {
				return err
			}
			if ptr.IsNil() {
				return fmt.Errorf("no history recorded for card %s", card)
			}
			log, err := a.historyRepository().Load(ctx, card, ptr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, log)
			}
			fmt.Fprintf(out, "card %s (%d entries, head %s)\n", card, len(log.Entries), ptr)
			for _, e := range log.Entries {
				kind := string(e.EventType)
				if e.MoveSubtype != "" {
					kind += "/" + string(e.MoveSubtype)
				}
				retired := ""
				if e.Retired {
					retired = " retired"
				}
				fmt.Fprintf(out, "  %s  %-24s app=%d members %d->%d%s\n",
					e.Timestamp.Format(time.RFC3339), kind, uint64(e.ApplicationID),
					e.MemberCountBefore, e.MemberCountAfter, retired)
			}
			return nil
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orNone(cid id.ContentID) string {
	if cid.IsNil() {
		return "<none>"
	}
	return string(cid)
}
