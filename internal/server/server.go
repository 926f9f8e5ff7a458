package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rdmtests/console/internal/artifacts"
	"github.com/rdmtests/console/internal/charts"
	"github.com/rdmtests/console/internal/notify"
	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/results"
	"github.com/rdmtests/console/internal/sequencer"
	"github.com/rdmtests/console/internal/validation"
)

// LogSource downloads run logs and knows the last timestamp the test server
// handed out.
type LogSource interface {
	artifacts.Downloader
	LastTimestamp() rdmtests.Token
}

// ChartGenerator renders the result charts as HTML fragments.
type ChartGenerator interface {
	CategoryChart(stats []results.CategoryStat) (string, error)
	StateChart(summary []results.StateCount) (string, error)
}

type Server struct {
	seq      *sequencer.Sequencer
	notifier *notify.Channel
	logs     *artifacts.Manager
	source   LogSource
	charts   ChartGenerator
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	index    *template.Template
}

func NewServer(seq *sequencer.Sequencer, notifier *notify.Channel, logs *artifacts.Manager, source LogSource, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{
		seq:      seq,
		notifier: notifier,
		logs:     logs,
		source:   source,
		charts:   charts.NewGenerator(),
		gatherer: gatherer,
		logger:   logger,
		index:    template.Must(template.New("index").Parse(indexTemplate)),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/download", s.handleDownload)
	r.Get("/charts/categories", s.handleCategoryChart)
	r.Get("/charts/states", s.handleStateChart)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/universes", s.handleUniverses)
		r.Post("/universes/refresh", s.handleRefreshUniverses)
		r.Put("/universes/{id}", s.handleSelectUniverse)
		r.Get("/devices", s.handleDevices)
		r.Post("/discovery", s.handleDiscovery)
		r.Get("/test-defs", s.handleTestDefs)
		r.Post("/runs", s.handleRun)
		r.Get("/session", s.handleSession)
		r.Get("/results", s.handleResults)
		r.Get("/results/{definition}", s.handleResult)
		r.Get("/notification", s.handleNotification)
		r.Delete("/notification", s.handleDismiss)
		r.Get("/notification/history", s.handleNotificationHistory)
	})

	return r
}

type universesView struct {
	Universes   []rdmtests.Universe `json:"universes"`
	Selected    int                 `json:"selected"`
	HasUniverse bool                `json:"has_universe"`
}

type devicesView struct {
	Universe int      `json:"universe"`
	Devices  []string `json:"devices"`
}

type categoryView struct {
	results.CategoryStat
	Percent string `json:"percent"`
}

type sessionView struct {
	ID            string               `json:"id"`
	UID           string               `json:"uid"`
	Timestamp     rdmtests.Token       `json:"timestamp"`
	Completed     time.Time            `json:"completed"`
	Summary       []results.StateCount `json:"summary"`
	CategoryStats []categoryView       `json:"stats_by_category"`
	WarningCount  int                  `json:"warning_count"`
	AdvisoryCount int                  `json:"advisory_count"`
	Warnings      []string             `json:"warnings"`
	Advisories    []string             `json:"advisories"`
	LogsDisabled  bool                 `json:"logs_disabled"`
	Failed        []string             `json:"previously_failed"`
	Categories    []string             `json:"categories"`
	States        []string             `json:"states"`
}

func newSessionView(session *sequencer.RunSession) sessionView {
	cats := make([]categoryView, 0, len(session.CategoryStats))
	for _, cs := range session.CategoryStats {
		cats = append(cats, categoryView{CategoryStat: cs, Percent: cs.PercentLabel()})
	}
	states := []string{results.All}
	for _, st := range results.States {
		states = append(states, string(st))
	}
	return sessionView{
		ID:            session.ID,
		UID:           session.UID,
		Timestamp:     session.Timestamp,
		Completed:     session.Completed,
		Summary:       session.Summary,
		CategoryStats: cats,
		WarningCount:  session.WarningCount,
		AdvisoryCount: session.AdvisoryCount,
		Warnings:      nonNil(session.Store.Warnings()),
		Advisories:    nonNil(session.Store.Advisories()),
		LogsDisabled:  session.LogsDisabled,
		Failed:        nonNil(session.Failed),
		Categories:    session.Categories(),
		States:        states,
	}
}

func (s *Server) universes() universesView {
	snap := s.seq.Snapshot()
	return universesView{
		Universes:   nonNilUniverses(snap.Universes),
		Selected:    snap.SelectedUniverse,
		HasUniverse: snap.HasUniverse,
	}
}

func (s *Server) handleUniverses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.universes())
}

func (s *Server) handleRefreshUniverses(w http.ResponseWriter, r *http.Request) {
	if err := s.seq.RefreshUniverses(r.Context()); err != nil {
		s.writeError(w, "Failed to refresh universes", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.universes())
}

func (s *Server) handleSelectUniverse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid universe id", http.StatusBadRequest)
		return
	}
	if err := s.seq.SelectUniverse(r.Context(), id); err != nil {
		s.writeError(w, "Failed to select universe", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.universes())
}

func (s *Server) devices() devicesView {
	snap := s.seq.Snapshot()
	return devicesView{Universe: snap.SelectedUniverse, Devices: nonNil(snap.Devices)}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.devices())
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := s.seq.RunDiscovery(r.Context()); err != nil {
		s.writeError(w, "Discovery failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.devices())
}

func (s *Server) handleTestDefs(w http.ResponseWriter, r *http.Request) {
	if len(s.seq.Snapshot().TestDefs) == 0 {
		if err := s.seq.FetchTestDefs(r.Context()); err != nil {
			s.writeError(w, "Failed to load test definitions", err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, nonNil(s.seq.Snapshot().TestDefs))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var sel validation.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// A run outlives a client that stops waiting for it.
	session, err := s.seq.Submit(context.WithoutCancel(r.Context()), sel)
	if err != nil {
		s.writeError(w, "Test run failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newSessionView(session))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := s.seq.Session()
	if session == nil {
		http.Error(w, "No test run yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newSessionView(session))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = results.All
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		state = results.All
	}
	s.writeJSON(w, http.StatusOK, s.seq.Filter(category, state))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	session := s.seq.Session()
	if session == nil {
		http.Error(w, "No test run yet", http.StatusNotFound)
		return
	}
	rec, ok := session.Store.Get(chi.URLParam(r, "definition"))
	if !ok {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		results.Record
		Class     string `json:"class"`
		DebugText string `json:"debug_text"`
	}{rec, results.StateClass(rec.State), rec.DebugText()})
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := s.notifier.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !s.notifier.Dismiss() {
		http.Error(w, "Nothing to dismiss", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNilNotifications(s.notifier.History()))
}

func (s *Server) handleCategoryChart(w http.ResponseWriter, r *http.Request) {
	session := s.seq.Session()
	if session == nil {
		http.Error(w, "No test run yet", http.StatusNotFound)
		return
	}
	s.writeChart(w, "categories", func() (string, error) {
		return s.charts.CategoryChart(session.CategoryStats)
	})
}

func (s *Server) handleStateChart(w http.ResponseWriter, r *http.Request) {
	session := s.seq.Session()
	if session == nil {
		http.Error(w, "No test run yet", http.StatusNotFound)
		return
	}
	s.writeChart(w, "states", func() (string, error) {
		return s.charts.StateChart(session.Summary)
	})
}

func (s *Server) writeChart(w http.ResponseWriter, name string, render func() (string, error)) {
	html, err := render()
	if err != nil {
		s.logger.Error().Err(err).Str("chart", name).Msg("Chart render failed")
		http.Error(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	session := s.seq.Session()
	if session == nil {
		http.Error(w, "No test run yet", http.StatusNotFound)
		return
	}
	if session.LogsDisabled {
		http.Error(w, "Log download is disabled", http.StatusNotFound)
		return
	}

	ts := s.source.LastTimestamp()
	data, err := s.logs.Fetch(r.Context(), s.source, session.UID, ts)
	if err != nil {
		s.logger.Error().Err(err).Str("uid", session.UID).Msg("Error downloading run log")
		http.Error(w, "Failed to download log", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/x-download")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifacts.FileName(session.UID, ts)))
	w.Write(data)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Universes": s.universes(),
		"Devices":   s.devices(),
		"Session":   nil,
	}
	if n, ok := s.notifier.Current(); ok {
		data["Notification"] = n
	}
	if session := s.seq.Session(); session != nil {
		view := newSessionView(session)
		data["Session"] = view
		data["Results"] = session.Filter(results.All, results.All)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("Template error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *Server) writeError(w http.ResponseWriter, msg string, err error) {
	var (
		rej       *validation.Rejection
		protoErr  *rdmtests.ProtocolError
		transport *rdmtests.TransportError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &rej):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sequencer.ErrNoUniverse):
		status = http.StatusConflict
	case errors.As(err, &protoErr):
		status = http.StatusBadGateway
	case errors.As(err, &transport):
		status = http.StatusBadGateway
	}
	s.logger.Warn().Err(err).Int("status", status).Msg(msg)
	s.writeJSON(w, status, errorBody{Error: msg, Reason: err.Error()})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilUniverses(u []rdmtests.Universe) []rdmtests.Universe {
	if u == nil {
		return []rdmtests.Universe{}
	}
	return u
}

func nonNilNotifications(n []notify.Notification) []notify.Notification {
	if n == nil {
		return []notify.Notification{}
	}
	return n
}
