package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/devbridge/internal/protocol"
	"github.com/standardbeagle/devbridge/pkg/procscan"
)

// newTestService builds a service with injected process and port sources.
func newTestService(opts Options, procs []procscan.Process, listening map[int]bool) *Service {
	s := NewService(opts, nil)
	s.listProcesses = func(ctx context.Context) ([]procscan.Process, error) {
		return procs, nil
	}
	s.portListening = func(port int, timeout time.Duration) bool {
		return listening[port]
	}
	return s
}

func TestDiscoverAllNothingRunning(t *testing.T) {
	s := newTestService(Options{
		Ports:          []int{3000, 3001},
		OverallTimeout: time.Second,
	}, nil, nil)

	start := time.Now()
	servers, err := s.DiscoverAll(context.Background(), true)
	require.NoError(t, err, "an empty result is a normal outcome, not a fault")
	assert.Empty(t, servers)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDiscoverOneNothingRunning(t *testing.T) {
	s := newTestService(Options{
		Ports:          []int{3000},
		OverallTimeout: time.Second,
	}, nil, nil)

	_, err := s.DiscoverOne(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.KindNoServerFound, protocol.KindOf(err))
}

func TestDiscoverAllDeduplicatesByPort(t *testing.T) {
	// Port 3000 shows up both as a listening fixed port and as a signature
	// match in the process table. It must appear once, and the process scan
	// entry wins because it carries PID and command.
	s := newTestService(Options{
		Ports: []int{3000},
	}, []procscan.Process{
		{PID: 4242, Command: "node_modules/.bin/next dev -p 3000"},
	}, map[int]bool{3000: true})

	servers, err := s.DiscoverAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 3000, servers[0].Port)
	assert.Equal(t, 4242, servers[0].PID)
	assert.Contains(t, servers[0].Command, "next dev")
	assert.False(t, servers[0].Verified)
}

func TestDiscoverAllSortedByPort(t *testing.T) {
	s := newTestService(Options{
		Ports: []int{8080, 3000, 5173},
	}, nil, map[int]bool{8080: true, 3000: true, 5173: true})

	servers, err := s.DiscoverAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, []int{3000, 5173, 8080}, []int{servers[0].Port, servers[1].Port, servers[2].Port})
}

func TestDiscoverAllSignatureWithoutPortFlag(t *testing.T) {
	s := newTestService(Options{
		Ports:       []int{9999}, // not listening
		DefaultPort: 3000,
	}, []procscan.Process{
		{PID: 10, Command: "next-server (v14.2.3)"},
		{PID: 11, Command: "vim main.go"}, // no signature match
	}, nil)

	servers, err := s.DiscoverAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 3000, servers[0].Port, "signature match with no port flag assumes the runtime default")
	assert.Equal(t, 10, servers[0].PID)
}

func TestDiscoverAllVerifyFiltersFailures(t *testing.T) {
	// One real protocol endpoint and one port serving something else. Only
	// the former survives a verified pass.
	good := httptest.NewServer(mcpHandler(t))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>dashboard</html>"))
	}))
	defer bad.Close()

	goodPort := serverPort(t, good)
	badPort := serverPort(t, bad)

	s := newTestService(Options{
		Ports:        []int{goodPort, badPort},
		EndpointPath: "/",
	}, nil, map[int]bool{goodPort: true, badPort: true})

	servers, err := s.DiscoverAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, goodPort, servers[0].Port)
	assert.True(t, servers[0].Verified)
	assert.NotEmpty(t, servers[0].EndpointURL)
}

func TestDiscoverAllCancelledContext(t *testing.T) {
	s := newTestService(Options{Ports: []int{3000}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.DiscoverAll(ctx, true)
	require.Error(t, err)
	assert.Equal(t, protocol.KindDiscoveryTimeout, protocol.KindOf(err))
}

func TestVerifySinglePort(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t))
	defer srv.Close()
	port := serverPort(t, srv)

	s := newTestService(Options{EndpointPath: "/"}, nil, nil)

	server, err := s.Verify(context.Background(), port)
	require.NoError(t, err)
	assert.Equal(t, port, server.Port)
	assert.True(t, server.Verified)
}

func TestVerifySinglePortFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	port := serverPort(t, srv)

	s := newTestService(Options{EndpointPath: "/"}, nil, nil)

	_, err := s.Verify(context.Background(), port)
	require.Error(t, err)
	assert.Equal(t, protocol.KindEndpointUnverified, protocol.KindOf(err))
}

func TestExtractPort(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    int
	}{
		{"short flag", "next dev -p 4001", 4001},
		{"long flag", "next dev --port 5173", 5173},
		{"long flag with equals", "next dev --port=5173", 5173},
		{"no flag falls back", "next dev", 3000},
		{"out of range falls back", "next dev -p 999999", 3000},
		{"flag embedded in path ignored", "node /srv/apps/p3000/server.js next dev", 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPort(tt.command, 3000))
		})
	}
}
