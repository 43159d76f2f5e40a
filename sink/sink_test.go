package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/pointing"
	"github.com/w1xm/acusim/protocol"
)

func telegram() *acu.Telegram {
	t := &acu.Telegram{MillisOfDay: 43200000}
	t.General.Simulation = true
	t.General.ActualTime = pointing.MJD(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	t.Axes[acu.AzimuthAxis].PIst = 180500000
	t.Axes[acu.AzimuthAxis].State = axis.Active
	t.Axes[acu.AzimuthAxis].Conditions[axis.FinalLimitUp] = true
	t.Axes[acu.AzimuthAxis].Conditions[axis.PreLimitUp] = true
	t.Axes[acu.AzimuthAxis].Executed = protocol.CommandResult{Counter: 3, ID: 3, Answer: protocol.AnswerDone}
	t.Motors[acu.AzimuthAxis] = []axis.MotorStatus{{Position: 180500000, Active: true}}
	t.Pointing.State = pointing.Running
	t.Pointing.TableLength = 5
	return t
}

func TestFlatten(t *testing.T) {
	fields, err := Flatten(telegram())
	require.NoError(t, err)
	for _, test := range []struct {
		key  string
		want interface{}
	}{
		{"MillisOfDay", float64(43200000)},
		{"General.Simulation", true},
		{"Axes.0.PIst", float64(180500000)},
		{"Axes.0.State", float64(axis.Active)},
		{"Axes.0.Conditions.final_limit_up", true},
		{"Axes.0.Conditions.pre_limit_up", true},
		{"Axes.0.Executed.Answer", float64(protocol.AnswerDone)},
		{"Axes.0.StowPinSelection.15", false},
		{"Motors.0.0.Active", true},
		{"Pointing.TableLength", float64(5)},
	} {
		if diff := cmp.Diff(fields[test.key], test.want); diff != "" {
			t.Errorf("field %q: got(-)/want(+):\n%s", test.key, diff)
		}
	}
	_, ok := fields["Axes.1.Conditions.final_limit_up"]
	require.False(t, ok)
	// Elevation and cable wrap carry no motors in this telegram.
	_, ok = fields["Motors.1"]
	require.False(t, ok)
}

func TestHashes(t *testing.T) {
	got := hashes("acu", telegram())
	require.Len(t, got, 4)
	want := map[string]interface{}{
		"state":      "ACTIVE",
		"trajectory": "OFF",
		"position":   180.5,
		"velocity":   0.0,
		"target":     0.0,
		"offset":     0.0,
		"stowed":     "off",
		"errors":     "final_limit_up",
		"warnings":   "pre_limit_up",
		"received":   "0:0:NONE",
		"executed":   "3:3:DONE",
	}
	if diff := cmp.Diff(got["acu:azimuth"], want); diff != "" {
		t.Errorf("azimuth hash: got(-)/want(+):\n%s", diff)
	}
	require.Equal(t, "RUNNING", got["acu:tracking"]["state"])
	require.Equal(t, uint16(5), got["acu:tracking"]["length"])
	require.Contains(t, got, "acu:elevation")
	require.Contains(t, got, "acu:cable_wrap")
}

func TestInflux(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		if strings.HasSuffix(r.URL.Path, "/write") {
			bodies = append(bodies, string(data))
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewInflux(srv.URL, "token", "w1xm", "acu.raw", "acu.status", map[string]string{"site": "test"})
	defer s.Close()
	require.NoError(t, s.Write(context.Background(), telegram()))

	var body string
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(bodies) == 0 {
			return false
		}
		body = bodies[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, strings.HasPrefix(body, "acu.status,site=test "), body)
	require.Contains(t, body, "Axes.0.Conditions.final_limit_up=true")
}

type fakeSink struct {
	mu     sync.Mutex
	writes []*acu.Telegram
}

func (s *fakeSink) Write(_ context.Context, t *acu.Telegram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, t)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestRun(t *testing.T) {
	cfg := acu.DefaultConfig()
	cfg.SamplingTime = 10 * time.Millisecond
	cfg.StepTime = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sys := acu.New(ctx, cfg)
	defer sys.Close()
	go sys.Run(ctx)

	a, b := &fakeSink{}, &fakeSink{}
	done := make(chan error)
	start := time.Now()
	go func() { done <- Run(ctx, sys, 50*time.Millisecond, a, b) }()

	require.Eventually(t, func() bool { return a.count() >= 3 && b.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	// Snapshots arrive every 10ms but are written at most every 50ms.
	require.LessOrEqual(t, a.count(), int(time.Since(start)/(50*time.Millisecond))+1)
	cancel()
	require.NoError(t, <-done)
}
