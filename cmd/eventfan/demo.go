package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/eventfan/internal/app"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/shop"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Publish sample events and print the listener activity",
	Long: `Publish an OrderCreated event and register a user, then wait for the
asynchronous listeners and print which listener ran on which worker.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Duration("wait", 2*time.Second, "how long to wait for async listeners before draining")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	wait, _ := cmd.Flags().GetDuration("wait")

	a, cleanup, err := initialize()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := a.StartConsumers(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := publishDemo(ctx, a, out); err != nil {
		return err
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}

	report, err := a.Stop(context.Background())
	fmt.Fprintf(out, "\npool drained: %d completed, %d discarded, %d still running\n",
		report.Completed, report.Discarded, report.Running)
	printActivity(out, a.Activity.Entries())
	fmt.Fprintf(out, "\nexternal notifications received: %d\n", len(a.External()))
	return err
}

func publishDemo(ctx context.Context, a *app.App, out io.Writer) error {
	evt := event.New(event.OrderCreated, event.Payload{
		event.KeyOrderID: int64(42),
		event.KeyUserID:  int64(7),
		event.KeyAmount:  99.99,
	}, event.WithSource("demo"))

	start := time.Now()
	if err := a.Dispatcher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Kind(), err)
	}
	fmt.Fprintf(out, "published %s %s, returned after %s\n", evt.Kind(), evt.ID(), time.Since(start).Round(time.Millisecond))

	start = time.Now()
	user, err := a.Users.Register(ctx, shop.RegisterUserRequest{Username: "demo", Email: "demo@example.com"})
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	fmt.Fprintf(out, "registered user %d (%s), returned after %s\n", user.ID, user.Username, time.Since(start).Round(time.Millisecond))
	return nil
}

func printActivity(out io.Writer, entries []shop.Activity) {
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tLISTENER\tKIND\tWORKER\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Format("15:04:05.000"), e.Listener, e.Kind, e.Worker, e.Detail)
	}
	_ = tw.Flush()
}
