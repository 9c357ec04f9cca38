// internal/agent/agent_test.go
package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/trapsender/internal/atlas"
	"github.com/signalnine/trapsender/internal/config"
	"github.com/signalnine/trapsender/internal/protocol"
	"github.com/signalnine/trapsender/internal/trapper"
	"github.com/signalnine/trapsender/internal/trapper/trappertest"
)

type checkerFunc func(ctx context.Context, msmID int) (*atlas.StatusCheck, error)

func (f checkerFunc) StatusCheck(ctx context.Context, msmID int) (*atlas.StatusCheck, error) {
	return f(ctx, msmID)
}

func ptr(v float64) *float64 { return &v }

func twoProbes() *atlas.StatusCheck {
	return &atlas.StatusCheck{
		GlobalAlert: true,
		TotalAlerts: 1,
		Probes: map[string]atlas.ProbeStatus{
			"6001": {Alert: false, Last: ptr(12.512), LastPacketLoss: ptr(0)},
			"12":   {Alert: true, LastPacketLoss: ptr(100)},
		},
	}
}

func fixedChecker(sc *atlas.StatusCheck) checkerFunc {
	return func(context.Context, int) (*atlas.StatusCheck, error) { return sc, nil }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, srv *trappertest.Server) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sender.Server = srv.Host
	cfg.Sender.Port = srv.Port
	cfg.Sender.Timeout = 2 * time.Second
	cfg.Atlas.Host = "cdn-fra"
	cfg.Atlas.MeasurementID = 1001
	cfg.Agent.StateFile = filepath.Join(t.TempDir(), "state.yaml")
	return cfg
}

func newAgent(cfg *config.Config, checker StatusChecker) *Agent {
	sender := trapper.NewSenderFromConfig(cfg.Sender, testLogger())
	return New(cfg, sender, checker, testLogger())
}

func TestRunOnce(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)
	a := newAgent(cfg, fixedChecker(twoProbes()))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Probes)
	require.NotNil(t, rep.Discovery)
	assert.Equal(t, 6, rep.Processed())
	assert.Zero(t, rep.Failed())
	assert.NoError(t, rep.RaiseForFailure())

	reqs := srv.Requests()
	require.Len(t, reqs, 2)

	// discovery first, one row per probe in numeric order
	lld := reqs[0].Data
	require.Len(t, lld, 1)
	assert.Equal(t, "cdn-fra", lld[0].Host)
	assert.Equal(t, "probe.discovery", lld[0].Key)
	assert.JSONEq(t, `{"data":[{"{#PROBE_ID}":"12"},{"{#PROBE_ID}":"6001"}]}`, lld[0].Value)

	keys := make([]string, 0, len(reqs[1].Data))
	for _, d := range reqs[1].Data {
		keys = append(keys, d.Key)
	}
	assert.Equal(t, []string{
		"probe.alert[12]",
		"probe.last_packet_loss[12]",
		"probe.last[6001]",
		"probe.alert[6001]",
		"probe.last_packet_loss[6001]",
	}, keys)

	st, err := ReadState(cfg.Agent.StateFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "6001"}, st.Probes)
	assert.Equal(t, 1001, st.MeasurementID)
	assert.Equal(t, 6, st.Processed)
	assert.False(t, st.LastUpload.IsZero())
}

func TestRunOnceSkipsUnchangedDiscovery(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)
	a := newAgent(cfg, fixedChecker(twoProbes()))

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Nil(t, rep.Discovery)
	assert.Len(t, srv.Requests(), 3)
}

func TestRunOnceResendsDiscoveryWhenProbesChange(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)

	sc := twoProbes()
	var calls atomic.Int32
	a := newAgent(cfg, checkerFunc(func(context.Context, int) (*atlas.StatusCheck, error) {
		if calls.Add(1) == 2 {
			sc.Probes["7000"] = atlas.ProbeStatus{Last: ptr(3.1), LastPacketLoss: ptr(0)}
		}
		return sc, nil
	}))

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, rep.Discovery)
	assert.Equal(t, 3, rep.Probes)
}

func TestRunOnceTotalRejection(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.RejectHosts("cdn-fra"))
	cfg := testConfig(t, srv)
	a := newAgent(cfg, fixedChecker(twoProbes()))

	rep, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, trapper.ErrTotalSend)

	var total *trapper.TotalSendError
	require.ErrorAs(t, err, &total)
	assert.Equal(t, total.Response.Failed, total.Response.Total)

	require.NotNil(t, rep)
	assert.Equal(t, 6, rep.Failed())

	// discovery was rejected, so it stays due
	st, err := ReadState(cfg.Agent.StateFile)
	require.NoError(t, err)
	assert.True(t, st.LastDiscovery.IsZero())
	assert.True(t, st.LastUpload.IsZero())
}

func TestRunOncePartialFailureIsData(t *testing.T) {
	srv := trappertest.NewServer(t, func(req protocol.SenderRequest) []byte {
		failed := 0
		for _, d := range req.Data {
			if strings.HasSuffix(d.Key, "[12]") {
				failed++
			}
		}
		n := len(req.Data)
		return trappertest.Frame(trappertest.StatusBody(n-failed, failed, n, 0.0001))
	})
	cfg := testConfig(t, srv)
	cfg.Sender.ResendSingles = true
	a := newAgent(cfg, fixedChecker(twoProbes()))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed())
	assert.ErrorIs(t, rep.RaiseForFailure(), trapper.ErrPartialSend)

	// five items resent one by one after the chunk failed
	assert.Len(t, rep.Resent, 5)
	assert.Len(t, srv.Requests(), 2+5)
}

func TestRunOnceConcurrentChunks(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)
	cfg.Sender.MaxItemsPerSend = 2
	cfg.Sender.Concurrency = 2
	a := newAgent(cfg, fixedChecker(twoProbes()))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Items, 3)
	assert.Equal(t, 6, rep.Processed())
}

func TestRunOnceStatusCheckError(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)
	a := newAgent(cfg, checkerFunc(func(context.Context, int) (*atlas.StatusCheck, error) {
		return nil, atlas.ErrAtlasUnavailable
	}))

	_, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, atlas.IsUnavailable(err))
	assert.Empty(t, srv.Requests())
}

func TestRunOnceTransportError(t *testing.T) {
	srv := trappertest.NewServer(t, nil)
	cfg := testConfig(t, srv)
	a := newAgent(cfg, fixedChecker(twoProbes()))

	_, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, trapper.ErrTransport)
	assert.Contains(t, err.Error(), "send discovery")
}

func TestRunOnceRequiresHostAndMeasurement(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())

	cfg := testConfig(t, srv)
	cfg.Atlas.Host = ""
	_, err := newAgent(cfg, fixedChecker(twoProbes())).RunOnce(context.Background())
	assert.Error(t, err)

	cfg = testConfig(t, srv)
	cfg.Atlas.MeasurementID = 0
	_, err = newAgent(cfg, fixedChecker(twoProbes())).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := trappertest.NewServer(t, trappertest.AcceptAll())
	cfg := testConfig(t, srv)
	cfg.Agent.PollInterval = time.Hour

	ran := make(chan struct{}, 1)
	a := newAgent(cfg, checkerFunc(func(context.Context, int) (*atlas.StatusCheck, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, errors.New("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not upload on start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
