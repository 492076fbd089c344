package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	ledgerDB    string
	ledgerLimit int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger [snapshots|stations|progress|audits]",
	Short: "Query the index database offline, one JSON object per line",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := "stations"
		if len(args) > 0 {
			q = args[0]
		}
		path := ledgerDB
		if path == "" {
			path = filepath.Join(dataDir, "index.sqlite")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer db.Close()
		return queryLedger(db, q, ledgerLimit, cmd.OutOrStdout())
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&dataDir, "data", "./data", "daemon data directory")
	ledgerCmd.Flags().StringVar(&ledgerDB, "db", "", "index database path (default <data>/index.sqlite)")
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "result limit")
	rootCmd.AddCommand(ledgerCmd)
}

type ledgerQuery struct {
	sql  string
	cols []string
}

var ledgerQueries = map[string]ledgerQuery{
	"snapshots": {
		`SELECT tick, path, dimension, stations, agents, catalog_digest FROM snapshots ORDER BY tick DESC LIMIT ?`,
		[]string{"tick", "path", "dimension", "stations", "agents", "catalog_digest"},
	},
	"stations": {
		`SELECT dimension, x, y, z, agent_id, blueprint, built, tick FROM stations ORDER BY dimension, x, y, z LIMIT ?`,
		[]string{"dimension", "x", "y", "z", "agent_id", "blueprint", "built", "tick"},
	},
	"progress": {
		`SELECT agent_id, sx, sy, sz, cursor, total, tick FROM progress ORDER BY tick DESC LIMIT ?`,
		[]string{"agent_id", "sx", "sy", "sz", "cursor", "total", "tick"},
	},
	"audits": {
		`SELECT tick, seq, actor, x, y, z, from_block, to_block, reason FROM audits ORDER BY tick DESC, seq DESC LIMIT ?`,
		[]string{"tick", "seq", "actor", "x", "y", "z", "from", "to", "reason"},
	},
}

func queryLedger(db *sql.DB, name string, limit int, out io.Writer) error {
	q, ok := ledgerQueries[name]
	if !ok {
		return fmt.Errorf("unknown query %q", name)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(q.sql, limit)
	if err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	enc := json.NewEncoder(out)
	for rows.Next() {
		vals := make([]any, len(q.cols))
		ptrs := make([]any, len(q.cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(q.cols))
		for i, c := range q.cols {
			row[c] = vals[i]
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
