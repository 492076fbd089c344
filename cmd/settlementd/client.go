package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"settlecraft.ai/internal/transport/admin"
)

var placeRotation int

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List the stations of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var state admin.StateResponse
		if err := call(http.MethodGet, "/admin/v1/state", nil, http.StatusOK, &state); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "tick %d\n", state.Tick)
		fmt.Fprintln(tw, "POS\tBLUEPRINT\tAGENT\tPROGRESS\tBUILT\tACTIVE")
		for _, v := range state.Stations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%t\t%s\n", v.Pos, v.Blueprint, v.AgentID, v.Cursor, v.Total, v.Built, v.Active)
		}
		return tw.Flush()
	},
}

var placeCmd = &cobra.Command{
	Use:   "place <x,y,z> <blueprint>",
	Short: "Place a station on a running daemon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePos(args[0])
		if err != nil {
			return err
		}
		req := admin.PlaceRequest{Pos: [3]int{pos.X, pos.Y, pos.Z}, Blueprint: args[1], Rotation: placeRotation}
		var resp admin.PlaceResponse
		if err := call(http.MethodPost, "/admin/v1/stations", req, http.StatusCreated, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "placed %s at %s, builder %s, %d steps\n", args[1], pos, resp.AgentID, resp.Steps)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <x,y,z>",
	Short: "Remove a station from a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePos(args[0])
		if err != nil {
			return err
		}
		req := admin.PlaceRequest{Pos: [3]int{pos.X, pos.Y, pos.Z}}
		if err := call(http.MethodDelete, "/admin/v1/stations", req, http.StatusNoContent, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", pos)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Ask a running daemon to write a snapshot now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Tick uint64 `json:"tick"`
		}
		if err := call(http.MethodPost, "/admin/v1/snapshot", nil, http.StatusOK, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot at tick %d\n", resp.Tick)
		return nil
	},
}

func init() {
	placeCmd.Flags().IntVar(&placeRotation, "rotation", 0, "quarter turns clockwise")
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func call(method, path string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, "http://"+addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
