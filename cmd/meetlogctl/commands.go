package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ashureev/meetlog/internal/domain"
	"github.com/ashureev/meetlog/internal/lifecycle"
	"github.com/ashureev/meetlog/internal/notify"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
	ackDiscard   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recording state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording the meeting chat",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop recording",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the captured chat as markdown or csv",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every captured message",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Show messages saved from an interrupted session",
	Args:  cobra.NoArgs,
	RunE:  runRecovery,
}

var recoveryAckCmd = &cobra.Command{
	Use:   "ack",
	Short: "Dismiss the pending recovery",
	Args:  cobra.NoArgs,
	RunE:  runRecoveryAck,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream capture events until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var st lifecycle.Status
	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodGet, "/api/status", &st); err != nil {
		return err
	}
	printStatus(cmd, st)
	return nil
}

func printStatus(cmd *cobra.Command, st lifecycle.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:     %s\n", st.State)
	fmt.Fprintf(out, "Meeting:   %s\n", st.MeetingIDOr("-"))
	fmt.Fprintf(out, "Messages:  %d\n", st.MessageCount)
	if t := st.Started(); !t.IsZero() {
		fmt.Fprintf(out, "Started:   %s\n", t.Local().Format("2006-01-02 15:04:05"))
	}
	if st.Locating {
		fmt.Fprintln(out, "Locating chat panel...")
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var res struct {
		Started bool `json:"started"`
		Pending bool `json:"pending"`
	}
	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodPost, "/api/recording/start", &res); err != nil {
		return err
	}
	if res.Pending {
		fmt.Fprintln(cmd.OutOrStdout(), "Waiting for the chat panel to open...")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Recording started")
	return nil
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var st lifecycle.Status
	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodPost, "/api/recording/stop", &st); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recording stopped (%d messages)\n", st.MessageCount)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	name, data, err := newAPIClient(serverURL).download(ctx, exportFormat)
	if err != nil {
		return err
	}
	path := exportOut
	if path == "" {
		path = filepath.Base(name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodDelete, "/api/messages", nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Messages cleared")
	return nil
}

func runRecovery(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var pending domain.PendingRecovery
	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodGet, "/api/recovery", &pending); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Meeting %s: %d unsaved messages\n", pending.MeetingID, len(pending.Messages))
	for _, m := range pending.Messages {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp, m.Sender, m.Content)
	}
	return nil
}

func runRecoveryAck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	path := "/api/recovery/ack"
	if ackDiscard {
		path += "?discard=true"
	}
	if err := newAPIClient(serverURL).getJSON(ctx, http.MethodPost, path, nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Recovery dismissed")
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	client, err := notify.NewClient(connectCtx, grpcAddr, nil)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	for ev, err := range client.Events(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, describe(ev))
	}
	return nil
}

func describe(e notify.Event) string {
	switch e := e.(type) {
	case notify.ObserverStarted:
		return fmt.Sprintf("%s meeting=%s", e.Kind(), e.MeetingID)
	case notify.ObserverStopped:
		return fmt.Sprintf("%s count=%d", e.Kind(), e.Count)
	case notify.ObserverError:
		return fmt.Sprintf("%s reason=%q", e.Kind(), e.Reason)
	case notify.MessagesUpdated:
		return fmt.Sprintf("%s count=%d", e.Kind(), e.Count)
	case notify.PendingRecovery:
		return fmt.Sprintf("%s meeting=%s count=%d", e.Kind(), e.MeetingID, e.Count)
	case notify.SessionInterrupted:
		return fmt.Sprintf("%s meeting=%s count=%d", e.Kind(), e.MeetingID, e.Count)
	case notify.CaptureLimitReached:
		return fmt.Sprintf("%s limit=%d", e.Kind(), e.Limit)
	default:
		return fmt.Sprintf("%v", e)
	}
}
