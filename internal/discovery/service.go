package discovery

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/devbridge/internal/protocol"
	"github.com/standardbeagle/devbridge/pkg/ports"
	"github.com/standardbeagle/devbridge/pkg/procscan"
)

// Options configures a discovery service. Zero values fall back to the
// defaults below.
type Options struct {
	// Ports is the fixed list of commonly used dev-server ports.
	Ports []int

	// Signatures are substrings matched against process command lines to
	// recognize runtime dev servers.
	Signatures []string

	// DefaultPort is assumed for a signature-matched process whose
	// command line names no port.
	DefaultPort int

	// ProbeTimeout bounds each individual verification probe.
	ProbeTimeout time.Duration

	// OverallTimeout bounds a whole discovery pass; probes still running
	// when it elapses count as failures, not pending.
	OverallTimeout time.Duration

	EndpointPath string
}

var defaultOptions = Options{
	Ports:          []int{3000, 3001, 3002, 3003, 4000, 5173, 8080},
	Signatures:     []string{"next dev", "next-server"},
	DefaultPort:    3000,
	ProbeTimeout:   1 * time.Second,
	OverallTimeout: 5 * time.Second,
	EndpointPath:   "/_next/mcp",
}

// Service enumerates and verifies candidate local servers.
type Service struct {
	opts     Options
	verifier *Verifier
	log      *logrus.Entry

	// listProcesses is swapped in tests.
	listProcesses func(context.Context) ([]procscan.Process, error)
	// portListening is swapped in tests.
	portListening func(port int, timeout time.Duration) bool
}

// NewService creates a discovery service.
func NewService(opts Options, log *logrus.Entry) *Service {
	if len(opts.Ports) == 0 {
		opts.Ports = defaultOptions.Ports
	}
	if len(opts.Signatures) == 0 {
		opts.Signatures = defaultOptions.Signatures
	}
	if opts.DefaultPort == 0 {
		opts.DefaultPort = defaultOptions.DefaultPort
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultOptions.ProbeTimeout
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = defaultOptions.OverallTimeout
	}
	if opts.EndpointPath == "" {
		opts.EndpointPath = defaultOptions.EndpointPath
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		opts:          opts,
		verifier:      NewVerifier(opts.EndpointPath),
		log:           log.WithField("component", "discovery"),
		listProcesses: procscan.List,
		portListening: ports.IsListening,
	}
}

// DiscoverAll enumerates candidates and, when verify is true, probes them
// all concurrently, returning only those that passed. Candidates that fail
// verification are dropped silently; having no servers is a normal outcome,
// not a fault. Results are ordered by port ascending.
func (s *Service) DiscoverAll(ctx context.Context, verify bool) ([]Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewError(protocol.KindDiscoveryTimeout, "discoverAll", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OverallTimeout)
	defer cancel()

	candidates := s.collectCandidates(ctx)
	if len(candidates) == 0 {
		return nil, nil
	}

	if !verify {
		servers := make([]Server, 0, len(candidates))
		for _, c := range candidates {
			servers = append(servers, Server{Candidate: c, Verified: false})
		}
		sortServers(servers)
		return servers, nil
	}

	// Probe every candidate in parallel; each probe has its own short
	// deadline and the pass as a whole is cut off by the overall ceiling.
	var (
		mu      sync.Mutex
		servers []Server
		wg      sync.WaitGroup
	)
	for _, c := range candidates {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()

			probeCtx, probeCancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
			defer probeCancel()

			endpointURL, err := s.verifier.Verify(probeCtx, c.Port)
			if err != nil {
				s.log.WithError(err).Debug("candidate failed verification")
				return
			}
			mu.Lock()
			servers = append(servers, Server{Candidate: c, Verified: true, EndpointURL: endpointURL})
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	sortServers(servers)
	return servers, nil
}

// DiscoverOne returns the verified server with the lowest port, or a
// no-server-found failure.
func (s *Service) DiscoverOne(ctx context.Context) (Server, error) {
	servers, err := s.DiscoverAll(ctx, true)
	if err != nil {
		return Server{}, err
	}
	if len(servers) == 0 {
		return Server{}, protocol.Errorf(protocol.KindNoServerFound, "discoverOne",
			"no compatible server found on ports %v", s.opts.Ports)
	}
	return servers[0], nil
}

// Verify probes a single port on demand, outside a full discovery pass.
func (s *Service) Verify(ctx context.Context, port int) (Server, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	endpointURL, err := s.verifier.Verify(probeCtx, port)
	if err != nil {
		return Server{}, &protocol.Error{
			Kind: protocol.KindEndpointUnverified, Op: "verify",
			Backend: ports.Addr(port), Err: err,
		}
	}
	return Server{Candidate: Candidate{Port: port}, Verified: true, EndpointURL: endpointURL}, nil
}

// collectCandidates merges the fixed-port source and the process scan,
// deduplicated by port. The process scan wins a collision because it
// carries PID and command information.
func (s *Service) collectCandidates(ctx context.Context) []Candidate {
	byPort := make(map[int]Candidate)

	// Source 1: fixed ports with something listening.
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, port := range s.opts.Ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if !s.portListening(port, s.opts.ProbeTimeout) {
				return
			}
			c := Candidate{Port: port}
			if pid := procscan.PortOwner(ctx, port); pid > 0 {
				c.PID = pid
			}
			mu.Lock()
			byPort[port] = c
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	// Source 2: process-table scan for runtime launch signatures. An
	// inaccessible process table degrades to port-scan-only candidates.
	procs, err := s.listProcesses(ctx)
	if err != nil {
		s.log.WithError(err).Debug("process table unavailable, using port scan only")
	}
	for _, proc := range procs {
		if !s.matchesSignature(proc.Command) {
			continue
		}
		port := extractPort(proc.Command, s.opts.DefaultPort)
		byPort[port] = Candidate{Port: port, PID: proc.PID, Command: proc.Command}
	}

	candidates := make([]Candidate, 0, len(byPort))
	for _, c := range byPort {
		candidates = append(candidates, c)
	}
	return candidates
}

func (s *Service) matchesSignature(command string) bool {
	for _, sig := range s.opts.Signatures {
		if strings.Contains(command, sig) {
			return true
		}
	}
	return false
}

var portFlagRe = regexp.MustCompile(`(?:^|\s)(?:-p|--port)(?:[=\s]+)(\d{2,5})`)

// extractPort pulls a listening port out of a dev-server command line,
// falling back to the runtime default.
func extractPort(command string, fallback int) int {
	match := portFlagRe.FindStringSubmatch(command)
	if match == nil {
		return fallback
	}
	port, err := strconv.Atoi(match[1])
	if err != nil || !ports.Valid(port) {
		return fallback
	}
	return port
}

func sortServers(servers []Server) {
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Port < servers[j].Port
	})
}
