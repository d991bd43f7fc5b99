package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/marketlens/gateway/internal/model"
)

// JobFailedError reports a job the gateway finished with status failed.
type JobFailedError struct {
	ID     string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.ID, e.Reason)
}

type waitFlags struct {
	wait     bool
	timeout  time.Duration
	interval time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "poll until the job completes or fails")
	cmd.Flags().DurationVar(&f.timeout, "timeout", defaultWaitTimeout, "stop polling after this long (the job keeps running)")
	cmd.Flags().DurationVar(&f.interval, "interval", defaultPollInterval, "delay between status checks")
}

func (a *app) submitCommand(name, path, short string) *cobra.Command {
	var wf waitFlags
	cmd := &cobra.Command{
		Use:   name + " SYMBOL [SYMBOL...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.ensureSession(cmd.Context())
			if err != nil {
				return err
			}

			var raw json.RawMessage
			if err := a.client.APIRequest(cmd.Context(), http.MethodPost, path, symbolsPayload(args), &raw); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			var queued model.EnqueueResponse
			if err := json.Unmarshal(raw, &queued); err != nil || queued.QueueID == "" {
				return a.printJSON(raw)
			}

			if err := a.store.RememberRequest(sess, queued.QueueID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Queued %s as %s (%s).\n", name, queued.QueueID, queued.Status)
			if !wf.wait {
				fmt.Fprintf(a.out, "Check on it with `marketlens results %s`, or pass --wait next time.\n", queued.QueueID)
				return nil
			}
			return a.poll(cmd.Context(), queued.QueueID, wf)
		},
	}
	wf.register(cmd)
	return cmd
}

func (a *app) announcementsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "announcements [SYMBOL...]",
		Short: "List recent market announcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess, err := a.store.Load(); err == nil && sess != nil {
				a.client.SetToken(sess.SessionJWT)
			}
			var raw json.RawMessage
			if err := a.client.APIRequest(cmd.Context(), http.MethodPost, "/announcements", symbolsPayload(args), &raw); err != nil {
				return fmt.Errorf("announcements: %w", err)
			}
			return a.printJSON(raw)
		},
	}
}

func (a *app) resultsCommand() *cobra.Command {
	var wf waitFlags
	cmd := &cobra.Command{
		Use:   "results [REQUEST_ID]",
		Short: "Show the status or result of a queued job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.ensureSession(cmd.Context())
			if err != nil {
				return err
			}

			id := sess.LastRequestID
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return fmt.Errorf("no request id given and nothing submitted from this session yet: run `marketlens results REQUEST_ID`")
			}
			return a.poll(cmd.Context(), id, wf)
		},
	}
	wf.register(cmd)
	return cmd
}

// poll checks the job until it is terminal, or once when not waiting.
// Pending and processing are interim states, not errors.
func (a *app) poll(ctx context.Context, id string, wf waitFlags) error {
	ctx, cancel := withWaitTimeout(ctx, wf.timeout)
	defer cancel()

	interval := wf.interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	var last model.RequestStatus
	for {
		if err := limiter.Wait(ctx); err != nil {
			state := last
			if state == "" {
				state = model.RequestStatusPending
			}
			return fmt.Errorf("stopped waiting for %s after %s; it is still %s on the gateway, check later with `marketlens results %s`",
				id, wf.timeout, state, id)
		}

		var job model.QueuedRequest
		if err := a.client.APIRequest(ctx, http.MethodGet, "/queue/status/"+url.PathEscape(id), nil, &job); err != nil {
			return fmt.Errorf("check %s: %w", id, err)
		}

		if job.Status != last {
			fmt.Fprintf(a.out, "%s: %s\n", id, job.Status)
			last = job.Status
		}

		switch job.Status {
		case model.RequestStatusCompleted:
			return a.printJSON(job.Result)
		case model.RequestStatusFailed:
			return &JobFailedError{ID: id, Reason: job.Error}
		}
		if !wf.wait {
			fmt.Fprintf(a.out, "Not finished yet. Run `marketlens results %s --wait` to follow it.\n", id)
			return nil
		}
	}
}

func symbolsPayload(args []string) map[string]any {
	symbols := make([]string, 0, len(args))
	for _, arg := range args {
		if s := strings.ToUpper(strings.TrimSpace(arg)); s != "" {
			symbols = append(symbols, s)
		}
	}
	payload := map[string]any{}
	switch len(symbols) {
	case 0:
	case 1:
		payload["symbol"] = symbols[0]
	default:
		payload["symbols"] = symbols
	}
	return payload
}

func (a *app) printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(a.out, "(empty result)")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(a.out, string(raw))
		return nil
	}
	fmt.Fprintln(a.out, buf.String())
	return nil
}
