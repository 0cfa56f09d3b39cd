package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/watchdogd/pkg/client"
)

// command runs client-side subcommands against a daemon's API.
type command struct {
	global *GlobalFlags
	out    io.Writer
	now    func() time.Time
}

func (c *command) client() (*client.Client, string, error) {
	url := c.global.APIUrl
	if url == "" && c.global.ConfigPath != "" {
		u, err := apiURLFromConfig(c.global.ConfigPath)
		if err != nil {
			return nil, "", err
		}
		url = u
	}
	if url == "" {
		url = client.DefaultBaseURL
	}
	return client.New(client.Config{BaseURL: url, Timeout: c.global.APITimeout}), url, nil
}

// connect returns a client for a reachable daemon.
func (c *command) connect(ctx context.Context) (*client.Client, error) {
	cl, url, err := c.client()
	if err != nil {
		return nil, err
	}
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'watchdogd serve'", url)
	}
	return cl, nil
}

// Status prints one service in detail or a table of all services.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if f.Name != "" {
		st, err := cl.Service(ctx, f.Name)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, st)
			return nil
		}
		c.printDetail(st)
		return nil
	}
	all, err := cl.Services(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, all)
		return nil
	}
	c.printTable(all)
	return nil
}

func (c *command) printTable(all []client.ServiceState) {
	now := c.now()
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tPHASE\tPID\tTRACKED\tUPTIME\tRESTARTS\tCRASHES\tLAST EXIT")
	for _, s := range all {
		uptime := "-"
		if s.Phase == "running" {
			uptime = formatAge(s.LaunchedAt, now)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			s.Name, s.Kind, s.Phase, pidOrDash(s.PID), s.Tracked, uptime, s.RestartCount, s.CrashCount, formatCode(s.LastExitCode))
	}
	_ = tw.Flush()
}

func (c *command) printDetail(s client.ServiceState) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	row := func(k, v string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("Name", s.Name)
	row("Kind", s.Kind)
	row("Phase", s.Phase)
	row("PID", pidOrDash(s.PID))
	row("Tracked", fmt.Sprint(s.Tracked))
	row("Launched", formatAge(s.LaunchedAt, c.now()))
	row("Restarts", fmt.Sprint(s.RestartCount))
	row("Crashes", fmt.Sprint(s.CrashCount))
	row("Last exit", formatCode(s.LastExitCode))
	row("Last verdict", orDash(s.LastClassification))
	row("Last error", orDash(s.LastError))
	row("Auto restart", fmt.Sprint(s.AutoRestart))
	_ = tw.Flush()
}

// Action sends start, stop or restart for one service.
func (c *command) Action(ctx context.Context, action, name string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	switch action {
	case "start":
		err = cl.Start(ctx, name)
	case "stop":
		err = cl.Stop(ctx, name)
	case "restart":
		err = cl.Restart(ctx, name)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return err
	}
	st, err := cl.Service(ctx, name)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: %s\n", st.Name, st.Phase)
	return nil
}

// Events prints recent events or persisted history.
func (c *command) Events(ctx context.Context, f EventsFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	q := client.EventQuery{Service: f.Service, Limit: f.Limit}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	if f.History {
		recs, err := cl.History(ctx, q)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, recs)
			return nil
		}
		_, _ = fmt.Fprintln(tw, "TIME\tSERVICE\tEVENT\tPID\tEXIT\tDETAIL")
		for _, r := range recs {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.OccurredAt.Local().Format(time.DateTime), r.Service, r.Kind, r.PID, formatCode(r.ExitCode), r.Detail)
		}
		return nil
	}

	evs, err := cl.Events(ctx, q)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, evs)
		return nil
	}
	_, _ = fmt.Fprintln(tw, "TIME\tSERVICE\tEVENT\tPID\tEXIT\tDETAIL")
	for _, e := range evs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime), e.Service, e.Kind, e.PID, formatCode(e.ExitCode), e.Detail)
	}
	return nil
}
