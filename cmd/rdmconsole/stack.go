package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/rdmtests/console/internal/artifacts"
	"github.com/rdmtests/console/internal/config"
	"github.com/rdmtests/console/internal/metrics"
	"github.com/rdmtests/console/internal/notify"
	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/sequencer"
)

// stack is everything a command needs to talk to the test server.
type stack struct {
	cfg      *config.Config
	registry *prometheus.Registry
	notifier *notify.Channel
	client   *rdmtests.Client
	seq      *sequencer.Sequencer
	logs     *artifacts.Manager

	mock *http.Server
}

func (a *App) newStack(ctx *cli.Context) (*stack, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	st := &stack{cfg: cfg}

	baseURL := cfg.ServerURL
	if cfg.Mock {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start mock test server: %w", err)
		}
		st.mock = &http.Server{Handler: rdmtests.NewMockServer()}
		go func() {
			if err := st.mock.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("Mock test server failed")
			}
		}()
		baseURL = "http://" + l.Addr().String()
		a.logger.Info().Str("url", baseURL).Msg("Using MOCK RDM test server")
	} else {
		a.logger.Debug().Str("url", baseURL).Msg("Using RDM test server")
	}

	st.registry = prometheus.NewRegistry()
	st.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(st.registry)

	st.notifier = notify.NewChannel(a.logger.With().Str("component", "notify").Logger())
	st.client = rdmtests.NewClient(baseURL,
		rdmtests.WithNotifier(st.notifier),
		rdmtests.WithMetrics(m),
		rdmtests.WithTimeout(cfg.Timeout),
		rdmtests.WithRunTimeout(cfg.RunTimeout),
		rdmtests.WithLogger(a.logger.With().Str("component", "gateway").Logger()),
	)
	st.seq = sequencer.New(st.client, st.notifier,
		sequencer.WithMetrics(m),
		sequencer.WithLogger(a.logger.With().Str("component", "sequencer").Logger()),
	)
	st.logs = artifacts.NewManager(cfg.LogDir, cfg.LogTTL)
	return st, nil
}

func (st *stack) Close() {
	if st.mock != nil {
		st.mock.Close()
	}
}
