package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rdmtests/console/internal/config"
	"github.com/rdmtests/console/internal/report"
	"github.com/rdmtests/console/internal/results"
	"github.com/rdmtests/console/internal/server"
	"github.com/rdmtests/console/internal/validation"
	"github.com/rdmtests/console/internal/worker"
)

var universeFlag = &cli.IntFlag{
	Name:    "universe",
	Aliases: []string{"u"},
	Usage:   "Universe to use (default: the first one the server reports)",
}

var colorFlag = &cli.BoolFlag{
	Name:  "color",
	Usage: "Colour result states",
}

func (a *App) commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "universes",
			Usage:  "List the universes known to the test server",
			Action: a.universes,
		},
		{
			Name:   "devices",
			Usage:  "List the devices patched to a universe",
			Flags:  []cli.Flag{universeFlag},
			Action: a.devices,
		},
		{
			Name:   "discover",
			Usage:  "Run full discovery on a universe",
			Flags:  []cli.Flag{universeFlag},
			Action: a.discover,
		},
		{
			Name:   "tests",
			Usage:  "List the test definitions the server offers",
			Action: a.tests,
		},
		{
			Name:  "run",
			Usage: "Run tests against a device and print the results",
			Flags: []cli.Flag{
				universeFlag,
				&cli.StringFlag{Name: "uid", Usage: "Device to test (default: the first device on the universe)"},
				&cli.StringFlag{Name: "write-delay", Usage: "Delay between writes, in ms"},
				&cli.BoolFlag{Name: "dmx-in-bg", Usage: "Send DMX in the background while testing"},
				&cli.StringFlag{Name: "frame-rate", Usage: "DMX frame rate, used with --dmx-in-bg"},
				&cli.StringFlag{Name: "slot-count", Usage: "DMX slot count [1-512], used with --dmx-in-bg"},
				&cli.StringSliceFlag{Name: "test", Aliases: []string{"t"}, Usage: "Run only this test definition (repeatable)"},
				&cli.StringFlag{Name: "category", Value: results.All, Usage: "Only list results in this category"},
				&cli.StringFlag{Name: "state", Value: results.All, Usage: "Only list results in this state"},
				&cli.StringSliceFlag{Name: "show", Usage: "Print the full record of this test definition (repeatable)"},
				&cli.BoolFlag{Name: "download", Usage: "Save the run log to --log-dir"},
				colorFlag,
			},
			Action: a.run,
		},
		{
			Name:   "serve",
			Usage:  "Serve the HTTP console",
			Flags:  config.ServeFlags,
			Action: a.serve,
		},
	}
}

func (a *App) printer(ctx *cli.Context) *report.Printer {
	if ctx.Bool(colorFlag.Name) {
		return report.NewPrinter(os.Stdout, report.WithColor())
	}
	return report.NewPrinter(os.Stdout)
}

// prepare loads universes and selects --universe when given.
func (a *App) prepare(ctx *cli.Context, st *stack) error {
	if err := st.seq.RefreshUniverses(ctx.Context); err != nil {
		return fmt.Errorf("failed to load universes: %w", err)
	}
	if ctx.IsSet(universeFlag.Name) {
		if err := st.seq.SelectUniverse(ctx.Context, ctx.Int(universeFlag.Name)); err != nil {
			return err
		}
	}
	if !st.seq.Snapshot().HasUniverse {
		return errors.New("the test server has no universes")
	}
	return nil
}

func (a *App) universes(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.seq.RefreshUniverses(ctx.Context); err != nil {
		return fmt.Errorf("failed to load universes: %w", err)
	}
	snap := st.seq.Snapshot()
	a.printer(ctx).Universes(snap.Universes, snap.SelectedUniverse)
	return nil
}

func (a *App) devices(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := a.prepare(ctx, st); err != nil {
		return err
	}
	snap := st.seq.Snapshot()
	a.printer(ctx).Devices(snap.SelectedUniverse, snap.Devices)
	return nil
}

func (a *App) discover(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := a.prepare(ctx, st); err != nil {
		return err
	}
	if err := st.seq.RunDiscovery(ctx.Context); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	snap := st.seq.Snapshot()
	a.printer(ctx).Devices(snap.SelectedUniverse, snap.Devices)
	return nil
}

func (a *App) tests(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.seq.FetchTestDefs(ctx.Context); err != nil {
		return fmt.Errorf("failed to load test definitions: %w", err)
	}
	a.printer(ctx).TestDefs(st.seq.Snapshot().TestDefs)
	return nil
}

func (a *App) run(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	p := a.printer(ctx)
	if err := a.prepare(ctx, st); err != nil {
		return err
	}

	sel := validation.Selection{
		DeviceUID:           ctx.String("uid"),
		WriteDelay:          ctx.String("write-delay"),
		DMXFrameRate:        ctx.String("frame-rate"),
		SlotCount:           ctx.String("slot-count"),
		SendDMXInBackground: ctx.Bool("dmx-in-bg"),
		Mode:                validation.ModeAll,
	}
	if tests := ctx.StringSlice("test"); len(tests) > 0 {
		sel.Mode = validation.ModeSubset
		sel.Subset = tests
	}

	session, err := st.seq.Submit(ctx.Context, sel)
	if err != nil {
		if n, ok := st.notifier.Current(); ok {
			p.Notification(n)
		}
		return err
	}

	p.Summary(session)
	category, state := ctx.String("category"), ctx.String("state")
	p.Results(session.Filter(category, state), category, state)
	p.Notes(session.Store)
	for _, def := range ctx.StringSlice("show") {
		rec, ok := session.Store.Get(def)
		if !ok {
			a.logger.Warn().Str("definition", def).Msg("No result for test")
			continue
		}
		p.Record(rec)
	}

	if ctx.Bool("download") {
		if session.LogsDisabled {
			a.logger.Warn().Msg("Log download is disabled on the test server")
			return nil
		}
		ts := st.client.LastTimestamp()
		if _, err := st.logs.Fetch(ctx.Context, st.client, session.UID, ts); err != nil {
			return fmt.Errorf("failed to download run log: %w", err)
		}
		path, err := st.logs.GetCachedLog(session.UID, ts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Saved run log to %s\n", path)
	}
	return nil
}

func (a *App) serve(ctx *cli.Context) error {
	st, err := a.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.seq.Bootstrap(ctx.Context); err != nil {
		a.logger.Warn().Err(err).Msg("Initial load from the test server failed")
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	w := worker.NewWorker(st.seq, st.logs, st.cfg.Refresh, a.logger.With().Str("component", "worker").Logger())
	go w.Start(runCtx)

	srv := server.NewServer(st.seq, st.notifier, st.logs, st.client, st.registry, a.logger.With().Str("component", "server").Logger())
	httpServer := &http.Server{
		Addr:    st.cfg.Addr,
		Handler: srv.Router(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			a.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case <-runCtx.Done():
		}
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	a.logger.Info().Str("addr", st.cfg.Addr).Msg("Starting RDM test console")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	a.logger.Info().Msg("Server stopped")
	return nil
}
