// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalnine/trapsender/internal/atlas"
	"github.com/signalnine/trapsender/internal/config"
	"github.com/signalnine/trapsender/internal/trapper"
)

// StatusChecker fetches the latest probe states of a measurement
type StatusChecker interface {
	StatusCheck(ctx context.Context, msmID int) (*atlas.StatusCheck, error)
}

// Agent polls a measurement and pushes its probe states to the collector
type Agent struct {
	cfg     *config.Config
	sender  *trapper.Sender
	checker StatusChecker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new agent
func New(cfg *config.Config, sender *trapper.Sender, checker StatusChecker, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		sender:  sender,
		checker: checker,
		logger:  logger,
		now:     time.Now,
	}
}

// Report summarizes one upload
type Report struct {
	At        time.Time
	Probes    int
	Discovery *trapper.Response // nil when the discovery record was not due
	Items     []*trapper.Response
	Resent    []*trapper.Response
}

// Processed sums processed counts over discovery and item exchanges
func (r *Report) Processed() int {
	n := 0
	for _, resp := range r.responses() {
		n += resp.Processed
	}
	return n
}

// Failed sums failed counts over discovery and item exchanges
func (r *Report) Failed() int {
	n := 0
	for _, resp := range r.responses() {
		n += resp.Failed
	}
	return n
}

// RaiseForFailure joins the failures of every discovery and item exchange
func (r *Report) RaiseForFailure() error {
	var errs []error
	for _, resp := range r.responses() {
		errs = append(errs, resp.RaiseForFailure())
	}
	return errors.Join(errs...)
}

func (r *Report) responses() []*trapper.Response {
	var out []*trapper.Response
	if r.Discovery != nil {
		out = append(out, r.Discovery)
	}
	for _, resp := range r.Items {
		if resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

// Run uploads immediately, then every poll interval until ctx is done
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"host", a.cfg.Atlas.Host,
		"measurement", a.cfg.Atlas.MeasurementID,
		"collector", a.sender.Addr(),
		"interval", a.cfg.Agent.PollInterval)

	ticker := time.NewTicker(a.cfg.Agent.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	a.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent shutting down")
			return nil
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Agent) runLogged(ctx context.Context) {
	rep, err := a.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("upload failed", "error", err)
		}
		return
	}
	a.logger.Info("upload done", "probes", rep.Probes, "processed", rep.Processed(), "failed", rep.Failed(),
		"discovery", rep.Discovery != nil)
}

// RunOnce performs one status check and upload. Exchanges the collector
// rejected in part are reported as data; an exchange rejected entirely
// yields an error wrapping *trapper.TotalSendError.
func (a *Agent) RunOnce(ctx context.Context) (*Report, error) {
	acfg := a.cfg.Atlas
	if acfg.Host == "" {
		return nil, errors.New("atlas host is required")
	}
	if acfg.MeasurementID <= 0 {
		return nil, errors.New("atlas measurement_id is required")
	}

	sc, err := a.checker.StatusCheck(ctx, acfg.MeasurementID)
	if err != nil {
		return nil, fmt.Errorf("status check: %w", err)
	}

	now := a.now()
	st := a.readState()
	ids := atlas.ProbeIDs(sc)
	rep := &Report{At: now, Probes: len(ids)}

	if st.NeedsDiscovery(acfg.MeasurementID, ids, now, a.cfg.Agent.LLDRefresh) {
		lld := a.sender.NewLLD(acfg.Host, acfg.LLDKey).AddRows(atlas.DiscoveryRows(sc, acfg.LLDMacro))
		resp, err := lld.Send(ctx, a.sender)
		if err != nil {
			return rep, fmt.Errorf("send discovery: %w", err)
		}
		rep.Discovery = resp
		if resp.Failed == 0 {
			st.LastDiscovery = now
			st.MeasurementID = acfg.MeasurementID
			st.Probes = ids
		}
	} else {
		a.logger.Debug("discovery unchanged, skipping", "probes", len(ids), "last", st.LastDiscovery)
	}

	batch := a.sender.NewItems().AddItems(atlas.Items(acfg.Host, sc, now.Unix()))
	if c := a.cfg.Sender.Concurrency; c > 0 {
		rep.Items, err = batch.SendConcurrent(ctx, c)
	} else {
		rep.Items, err = batch.Send(ctx)
	}
	if err != nil {
		return rep, fmt.Errorf("send items: %w", err)
	}

	if a.cfg.Sender.ResendSingles {
		a.resend(ctx, rep)
	}

	if rep.Processed() > 0 {
		st.LastUpload = now
	}
	st.Processed = rep.Processed()
	st.Failed = rep.Failed()
	if path := a.cfg.Agent.StateFile; path != "" {
		if err := WriteState(path, st); err != nil {
			return rep, fmt.Errorf("write state: %w", err)
		}
	}

	var rejected []error
	for _, resp := range rep.responses() {
		if err := resp.RaiseForFailure(); errors.Is(err, trapper.ErrTotalSend) {
			rejected = append(rejected, err)
		}
	}
	if len(rejected) > 0 {
		return rep, fmt.Errorf("upload rejected: %w", errors.Join(rejected...))
	}
	return rep, nil
}

// resend retries the items of failed chunks one by one, to find the
// offending items in the log
func (a *Agent) resend(ctx context.Context, rep *Report) {
	for _, resp := range rep.Items {
		if resp == nil || resp.Failed == 0 || len(resp.Items) < 2 {
			continue
		}
		singles, err := resp.ResendAsSingles(ctx)
		rep.Resent = append(rep.Resent, singles...)
		if err != nil {
			a.logger.Warn("resend as singles incomplete", "error", err)
		}
	}
}

func (a *Agent) readState() State {
	if a.cfg.Agent.StateFile == "" {
		return State{}
	}
	st, err := ReadState(a.cfg.Agent.StateFile)
	if err != nil {
		a.logger.Warn("read state failed, starting fresh", "path", a.cfg.Agent.StateFile, "error", err)
		return State{}
	}
	return st
}
