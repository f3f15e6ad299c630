package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/metaform/metaform-management/internal/presentation/tui"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/presence"
)

var socketsCmd = &cobra.Command{
	Use:   "sockets",
	Short: "Inspect and clean up stored connection state",
	Long: `List, inspect and remove the per-connection presence records of the configured
store. Useful after a crash left records of connections that no longer exist.`,
}

var socketsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored connections and their open replies",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		entries, err := svc.Store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sockets: %w", err)
		}
		slices.SortFunc(entries, func(a, b domain.SocketEntry) int {
			return strings.Compare(a.SocketID, b.SocketID)
		})

		format, _ := cmd.Flags().GetString("output")
		if format != "text" {
			return render(cmd.OutOrStdout(), format, entries)
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stored sockets found.")
			return nil
		}
		if f, ok := cmd.OutOrStdout().(*os.File); ok && tui.IsTerminal(f) {
			if render, err := tui.NewRenderer(); err == nil {
				if out, err := render(tui.SocketsTable(entries)); err == nil {
					fmt.Fprint(f, out)
					return nil
				}
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stored Sockets:")
		for _, e := range entries {
			replies := "-"
			if e.State != nil && len(e.State.OpenReplies) > 0 {
				replies = strings.Join(e.State.OpenReplies, ", ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "- %s: %s\n", e.SocketID, replies)
		}
		return nil
	},
}

var socketsInspectCmd = &cobra.Command{
	Use:   "inspect <socket-id>",
	Short: "Print the stored state of a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		state, err := svc.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load socket '%s': %w", args[0], err)
		}

		format, _ := cmd.Flags().GetString("output")
		if format == "text" {
			format = "json"
		}
		return render(cmd.OutOrStdout(), format, state)
	},
}

var socketsRmCmd = &cobra.Command{
	Use:   "rm <socket-id>...",
	Short: "Remove one or more stored connections",
	Long: `Removes the records and announces their open replies as unlocked. The
announcement only reaches clients when bus.enabled is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		announce := presence.BusTransport{Bus: svc.Bus}
		var errs []error
		for _, socketID := range args {
			state, err := svc.Store.Get(cmd.Context(), socketID)
			if err != nil && !errors.Is(err, domain.ErrStateNotFound) {
				errs = append(errs, fmt.Errorf("failed to load '%s': %w", socketID, err))
				continue
			}
			if state != nil {
				for _, replyID := range state.OpenReplies {
					if err := announce.Broadcast(cmd.Context(), domain.Unlocked(replyID)); err != nil {
						errs = append(errs, fmt.Errorf("failed to announce unlock of '%s': %w", replyID, err))
					}
				}
			}
			if err := svc.Store.Remove(cmd.Context(), socketID); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove '%s': %w", socketID, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed socket '%s'\n", socketID)
		}
		return errors.Join(errs...)
	},
}

var socketsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove every stored connection",
	Long: `Offline cleanup: treats every stored connection as dead, announces its open replies
as unlocked and removes it. Run it only while no server uses the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, logger, err := openService(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		reconciler := presence.NewReconciler(svc.Store, presence.BusTransport{Bus: svc.Bus}, presence.NoneAlive{},
			presence.WithReconcilerLogger(logger))
		removed, err := reconciler.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Swept %d socket(s)\n", len(removed))
		return nil
	},
}

// render writes v as json or yaml.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func init() {
	rootCmd.AddCommand(socketsCmd)
	socketsCmd.AddCommand(socketsLsCmd)
	socketsCmd.AddCommand(socketsInspectCmd)
	socketsCmd.AddCommand(socketsRmCmd)
	socketsCmd.AddCommand(socketsSweepCmd)

	socketsCmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json or yaml")
}
