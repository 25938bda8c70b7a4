package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/archivist/gateway/internal/ratelimit"
	"github.com/archivist/gateway/internal/storage"
)

func newRateLimitCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or reset per-client rate limit windows",
	}
	cmd.AddCommand(newRateLimitInspectCommand(a))
	cmd.AddCommand(newRateLimitResetCommand(a))
	return cmd
}

func newRateLimitInspectCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "inspect <identity>...",
		Short: "Show the current window of one or more client IPs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format: %s", output)
			}

			return a.withLimiter(cmd.Context(), func(redis *storage.RedisClient, limiter *ratelimit.FixedWindowLimiter) error {
				states := make([]ratelimit.WindowState, 0, len(args))
				for _, identity := range args {
					state, err := limiter.Peek(cmd.Context(), strings.TrimSpace(identity))
					if err != nil {
						return err
					}
					states = append(states, state)
				}
				return writeWindowStates(cmd.OutOrStdout(), output, states)
			})
		},
	}

	cmd.Flags().StringVar(&output, "output-format", "table", "Output format: table|json")
	return cmd
}

func newRateLimitResetCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <identity>",
		Short: "Delete the current window of a client IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset requires --yes")
			}

			return a.withLimiter(cmd.Context(), func(redis *storage.RedisClient, limiter *ratelimit.FixedWindowLimiter) error {
				key := limiter.Key(strings.TrimSpace(args[0]))
				deleted, err := redis.Del(cmd.Context(), key)
				if err != nil {
					return err
				}

				if deleted == 0 {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "No active window for %s\n", key)
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", key)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func (a *app) withLimiter(ctx context.Context, fn func(*storage.RedisClient, *ratelimit.FixedWindowLimiter) error) error {
	redis, err := storage.NewRedis(ctx, a.config.RedisURL, storage.RedisOptions{})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redis.Close()

	limiter, err := ratelimit.NewFixedWindow(redis, ratelimit.Config{
		Limit:     a.config.RateLimit,
		KeyPrefix: a.config.RateLimitKeyPrefix,
	})
	if err != nil {
		return err
	}

	return fn(redis, limiter)
}

func writeWindowStates(w io.Writer, format string, states []ratelimit.WindowState) error {
	if format == "json" {
		payload, err := json.MarshalIndent(states, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Count", "Limit", "Remaining", "Resets In"})
	for _, s := range states {
		resetsIn := "-"
		if s.TTLSeconds > 0 {
			resetsIn = fmt.Sprintf("%ds", s.TTLSeconds)
		}
		t.AppendRow(table.Row{s.Key, s.Count, s.Limit, s.Remaining, resetsIn})
	}
	t.Render()
	return nil
}
