package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"task-timer/internal/adapter/timerapi"
	"task-timer/internal/domain"
)

func newTimerCmd(g *globals) *cobra.Command {
	timer := &cobra.Command{Use: "timer", Short: "Drive a task timer on a running server"}

	var asJSON bool
	timer.PersistentFlags().BoolVar(&asJSON, "json", false, "print the raw view as JSON")

	client := func() (*timerapi.Client, error) {
		cfg, logger, err := g.load()
		if err != nil {
			return nil, err
		}
		return timerapi.NewClient(cfg.Client.APIURL, cfg.Client.Token, logger), nil
	}

	timer.AddCommand(&cobra.Command{
		Use:   "get <task-id>",
		Short: "Show the current timer view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			v, err := c.View(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), v, asJSON)
		},
	})

	for _, action := range []string{"start", "pause", "resume", "stop"} {
		timer.AddCommand(&cobra.Command{
			Use:   action + " <task-id>",
			Short: action + " the timer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				v, err := c.Do(cmd.Context(), args[0], action)
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), v, asJSON)
			},
		})
	}

	timer.AddCommand(&cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow the timer live until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, c, args[0], cmd.OutOrStdout())
		},
	})
	return timer
}

func printView(w io.Writer, v domain.View, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, "%s  %-8s %s  %s\n", v.ID, v.TimerStatus, domain.FormatHHMMSS(v.ElapsedSeconds(v.ServerNow.Time)), v.Name)
	return err
}

// display keeps the latest view with the server clock offset measured when
// it arrived, so the ticking value follows the server's clock.
type display struct {
	mu     sync.Mutex
	view   domain.View
	offset time.Duration
}

// set replaces the held view unless v is older. Views are stamped with
// serverNow while the task is locked, but published after the lock is
// released, so frames for one task can arrive out of order.
func (d *display) set(v domain.View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v.ServerNow.Before(d.view.ServerNow.Time) {
		return
	}
	d.view = v
	d.offset = v.ServerOffset(time.Now())
}

func (d *display) line(now time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	elapsed := d.view.ElapsedSeconds(now.Add(d.offset))
	return fmt.Sprintf("%s  %-8s", domain.FormatHHMMSS(elapsed), d.view.TimerStatus)
}

func watch(ctx context.Context, c *timerapi.Client, taskID string, out io.Writer) error {
	v, err := c.View(ctx, taskID)
	if err != nil {
		return err
	}
	d := &display{}
	d.set(v)

	errc := make(chan error, 1)
	go func() { errc <- c.Watch(ctx, taskID, d.set) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	_, _ = fmt.Fprintf(out, "\r%s", d.line(time.Now()))
	for {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		case err := <-errc:
			_, _ = fmt.Fprintln(out)
			return err
		case now := <-ticker.C:
			_, _ = fmt.Fprintf(out, "\r%s", d.line(now))
		}
	}
}
