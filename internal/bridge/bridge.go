// Package bridge is the facade the tool surface and CLI call into. It ties
// discovery, the connection registry, and the automation lifecycle manager
// together and owns target resolution for proxied requests.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/devbridge/internal/automation"
	"github.com/standardbeagle/devbridge/internal/discovery"
	"github.com/standardbeagle/devbridge/internal/protocol"
	"github.com/standardbeagle/devbridge/internal/registry"
)

// AutomationTarget addresses the spawned automation backend instead of a
// discovered HTTP endpoint.
const AutomationTarget = "automation"

// Target identifies where a proxied request goes.
type Target struct {
	Automation bool
	Port       int
}

// ParseTarget accepts "automation" or a TCP port number.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, AutomationTarget) {
		return Target{Automation: true}, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("invalid target %q: expected %q or a port number", raw, AutomationTarget)
	}
	return Target{Port: port}, nil
}

func (t Target) String() string {
	if t.Automation {
		return AutomationTarget
	}
	return strconv.Itoa(t.Port)
}

// Bridge wires the subsystems together.
type Bridge struct {
	disco *discovery.Service
	reg   *registry.Registry
	log   *logrus.Entry
}

func New(disco *discovery.Service, reg *registry.Registry, log *logrus.Entry) *Bridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		disco: disco,
		reg:   reg,
		log:   log.WithField("component", "bridge"),
	}
}

// DiscoverAll runs a fresh discovery pass. Verified results are cached for
// subsequent target resolution; the returned slice always reflects this
// pass, never the cache.
func (b *Bridge) DiscoverAll(ctx context.Context, verify bool) ([]discovery.Server, error) {
	servers, err := b.disco.DiscoverAll(ctx, verify)
	if err != nil {
		return nil, err
	}
	if verify {
		b.reg.StoreServers(servers)
	}
	return servers, nil
}

// DiscoverOne returns the first verified server, lowest port first.
func (b *Bridge) DiscoverOne(ctx context.Context) (discovery.Server, error) {
	server, err := b.disco.DiscoverOne(ctx)
	if err != nil {
		return discovery.Server{}, err
	}
	b.reg.RegisterEndpoint(server.Port, server.EndpointURL)
	return server, nil
}

// ListTools fetches the tool catalog from the addressed backend.
func (b *Bridge) ListTools(ctx context.Context, target Target) ([]protocol.ToolDescriptor, error) {
	client, err := b.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx)
}

// CallTool forwards a tool invocation to the addressed backend. Tool names
// and arguments are passed through untouched; the backend is the sole
// authority on whether they are valid.
func (b *Bridge) CallTool(ctx context.Context, target Target, name string, args map[string]interface{}) (json.RawMessage, error) {
	client, err := b.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, name, args)
}

// resolve maps a target to a live client. Ports resolve through the cache
// first, then through an on-demand verification probe.
func (b *Bridge) resolve(ctx context.Context, target Target) (*protocol.Client, error) {
	if target.Automation {
		client := b.reg.Automation().Current()
		if client == nil {
			return nil, protocol.Errorf(protocol.KindConnectionNotStarted, "resolve",
				"automation connection not started")
		}
		return client, nil
	}

	if client := b.reg.ClientForPort(target.Port); client != nil {
		return client, nil
	}
	server, err := b.disco.Verify(ctx, target.Port)
	if err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{"port": server.Port, "endpoint": server.EndpointURL}).
		Debug("Verified endpoint on demand")
	return b.reg.RegisterEndpoint(server.Port, server.EndpointURL), nil
}

// StartAutomation spawns (or returns) the automation backend connection.
func (b *Bridge) StartAutomation(ctx context.Context, opts automation.Options) error {
	_, err := b.reg.Automation().Start(ctx, opts)
	return err
}

// StopAutomation shuts the automation backend down. Safe to call when
// nothing is running.
func (b *Bridge) StopAutomation(ctx context.Context) error {
	return b.reg.Automation().Stop(ctx)
}

// Status is a point-in-time report of bridge state.
type Status struct {
	Automation AutomationStatus   `json:"automation"`
	Discovery  DiscoveryStatus    `json:"discovery"`
	Servers    []discovery.Server `json:"servers,omitempty"`
}

type AutomationStatus struct {
	State      string `json:"state"`
	Backend    string `json:"backend,omitempty"`
	Headless   bool   `json:"headless,omitempty"`
	Responsive bool   `json:"responsive"`
}

type DiscoveryStatus struct {
	CacheFresh bool `json:"cacheFresh"`
	Cached     int  `json:"cached"`
}

// Status reports automation and cache state. The automation connection is
// pinged only when it claims to be running.
func (b *Bridge) Status(ctx context.Context) Status {
	mgr := b.reg.Automation()
	state := mgr.State()
	opts := mgr.Options()

	st := Status{
		Automation: AutomationStatus{State: state.String()},
	}
	if state == automation.StateRunning {
		st.Automation.Backend = opts.Backend
		st.Automation.Headless = opts.Headless
		st.Automation.Responsive = mgr.Ping(ctx) == nil
	}

	servers, fresh := b.reg.CachedServers()
	st.Discovery = DiscoveryStatus{CacheFresh: fresh, Cached: len(servers)}
	if fresh {
		st.Servers = servers
	}
	return st
}

// Close releases bridge resources. The automation subprocess is stopped
// first so its lock is released before the registry drops connections.
func (b *Bridge) Close(ctx context.Context) {
	if err := b.reg.Automation().Stop(ctx); err != nil {
		b.log.WithError(err).Debug("Automation stop during close")
	}
	b.reg.Stop()
}
