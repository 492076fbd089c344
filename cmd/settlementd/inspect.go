package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"settlecraft.ai/internal/persistence/snapshot"
)

var inspectFull bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot.snap.zst>",
	Short: "Print a snapshot's header, or its stations with --full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !inspectFull {
			h, err := snapshot.ReadHeader(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dimension=%s tick=%d stations=%d agents=%d catalogs=%s\n",
				h.Version, h.Dimension, h.Tick, h.Stations, h.Agents, h.CatalogDigest)
			return nil
		}

		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dimension=%s tick=%d chunks=%d ground_items=%d\n",
			snap.Header.Dimension, snap.Header.Tick, len(snap.World.Chunks), len(snap.World.Items))

		cursors := map[string]int{}
		for _, a := range snap.Settlement.Agents {
			cursors[a.ID] = a.Cursor
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POS\tBLUEPRINT\tROT\tAGENT\tCURSOR\tBUILT\tDEPOT")
		for _, st := range snap.Settlement.Stations {
			depot := 0
			for _, s := range st.Depot {
				depot += s.Count
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%t\t%d\n",
				st.Pos, st.Blueprint, st.Rotation, st.AgentID, cursors[st.AgentID], st.Built, depot)
		}
		return tw.Flush()
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "decode the whole snapshot")
}
