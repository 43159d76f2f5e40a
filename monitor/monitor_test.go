package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

func newServer(t *testing.T, opts ...func(*Server)) (*acu.System, *httptest.Server) {
	t.Helper()
	cfg := acu.DefaultConfig()
	cfg.SamplingTime = 20 * time.Millisecond
	cfg.StepTime = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	sys := acu.New(ctx, cfg)
	go sys.Run(ctx)
	s := NewServer(sys)
	s.Stats = func() interface{} { return map[string]int{"sessions": 2} }
	for _, opt := range opts {
		opt(s)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		sys.Close()
	})
	return sys, ts
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string) (*http.Response, []Result) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var results []Result
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	}
	return resp, results
}

func TestStatus(t *testing.T) {
	_, ts := newServer(t)
	var tel acu.Telegram
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &tel))
	require.Equal(t, int32(180000000), tel.Axes[acu.AzimuthAxis].PIst)
	require.Equal(t, int32(90000000), tel.Axes[acu.ElevationAxis].PIst)
	require.True(t, tel.Axes[acu.AzimuthAxis].Simulation)
	require.Len(t, tel.Motors[acu.AzimuthAxis], 8)
}

func TestAxis(t *testing.T) {
	_, ts := newServer(t)
	for _, test := range []struct {
		path   string
		code   int
		motors int
	}{
		{"/api/axis/1", http.StatusOK, 8},
		{"/api/axis/2", http.StatusOK, 4},
		{"/api/axis/3", http.StatusOK, 1},
		{"/api/axis/5", http.StatusNotFound, 0},
		{"/api/axis/x", http.StatusNotFound, 0},
	} {
		t.Run(test.path, func(t *testing.T) {
			var got struct {
				Status axis.Status        `json:"status"`
				Motors []axis.MotorStatus `json:"motors"`
			}
			require.Equal(t, test.code, getJSON(t, ts.URL+test.path, &got))
			require.Len(t, got.Motors, test.motors)
		})
	}
}

func TestStats(t *testing.T) {
	_, ts := newServer(t)
	var got map[string]int
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/stats", &got))
	require.Equal(t, 2, got["sessions"])
}

func TestCommand(t *testing.T) {
	sys, ts := newServer(t)

	resp, results := post(t, ts.URL+"/api/command", `{"command":"mode","subsystem":1,"id":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, results, 1)
	require.Equal(t, "ACCEPTED", results[0].Answer)
	require.Eventually(t, func() bool {
		return sys.Status().Axes[acu.AzimuthAxis].State == axis.Active
	}, 5*time.Second, 10*time.Millisecond)

	resp, results = post(t, ts.URL+"/api/command", `[
		{"command":"mode","subsystem":1,"id":3,"p1":500,"p2":1},
		{"command":"mode","subsystem":2,"id":3,"p1":45,"p2":1}
	]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, results, 2)
	require.Equal(t, uint16(protocol.AnswerInvalid), results[0].Code)
	require.Equal(t, uint16(protocol.AnswerWrongState), results[1].Code)

	resp, _ = post(t, ts.URL+"/api/command", `{"command":"jump","subsystem":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, _ = post(t, ts.URL+"/api/command", `[{"command":"mode","subsystem":1,"id":7},{"command":"mode","subsystem":1,"id":7}]`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, _ = post(t, ts.URL+"/api/command", `{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusSocket(t *testing.T) {
	sys, ts := newServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first acu.Telegram
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, axis.Inactive, first.Axes[acu.ElevationAxis].State)

	require.NoError(t, conn.WriteJSON(Command{Command: "mode", Subsystem: uint16(protocol.Elevation), ID: axis.ModeActive}))
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "elevation never became active")
		var tel acu.Telegram
		require.NoError(t, conn.ReadJSON(&tel))
		if tel.Axes[acu.ElevationAxis].State == axis.Active {
			break
		}
	}
	require.Equal(t, axis.Active, sys.Status().Axes[acu.ElevationAxis].State)
}

func TestCommandPassword(t *testing.T) {
	_, ts := newServer(t, func(s *Server) { s.Password = "secret" })
	for _, test := range []struct {
		name, password string
		code           int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"right", "secret", http.StatusOK},
	} {
		t.Run(test.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/command", strings.NewReader(`{"command":"mode","subsystem":2,"id":2}`))
			require.NoError(t, err)
			if test.password != "" {
				req.SetBasicAuth("operator", test.password)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, test.code, resp.StatusCode)
		})
	}
}
