package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go.klb.dev/clipshare/internal/ipc"
	"go.klb.dev/clipshare/internal/wire"
)

const controlTimeout = 30 * time.Second

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Send the current clipboard to the peer now",
		Long: `Asks the running clipshare daemon to classify the current clipboard
(image, copied files, or anything else) and send it to the connected peer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return control(cmd, wire.FrameSend, "Clipboard sent.")
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Put back the clipboard as it was before the last received message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return control(cmd, wire.FrameRestore, "Clipboard restored.")
		},
	}
}

func control(cmd *cobra.Command, t wire.Type, done string) error {
	ctx, cancel := context.WithTimeout(cmdContext(cmd), controlTimeout)
	defer cancel()
	if _, err := ipc.Request(ctx, t); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), done)
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmdContext(cmd), controlTimeout)
			defer cancel()
			st, err := ipc.RequestStatus(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output raw JSON")
	return cmd
}

func printStatus(out io.Writer, st *ipc.StatusReply) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Clipboard:\t%s\n", st.Backend)
	fmt.Fprintf(w, "Transport:\t%s\n", st.Transport)
	if st.Peer != "" {
		fmt.Fprintf(w, "Peer:\t%s\n", st.Peer)
	}
	fmt.Fprintf(w, "Connected:\t%t\n", st.Attached)
	fmt.Fprintf(w, "Received:\t%d\n", st.Received)
	fmt.Fprintf(w, "Sent:\t%d\n", st.Sent)
	if st.SnapshotAt.IsZero() {
		fmt.Fprintf(w, "Snapshot:\t-\n")
	} else {
		fmt.Fprintf(w, "Snapshot:\t%s (%s)\n", st.SnapshotAt.Format(time.RFC3339), fmtAge(st.SnapshotAt))
	}
	_ = w.Flush()

	if len(st.Notices) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Recent notices:")
		for _, n := range st.Notices {
			fmt.Fprintln(out, "  "+n)
		}
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
