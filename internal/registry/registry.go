// Package registry holds the bridge's process-wide connection state: the
// live HTTP clients to discovered endpoints, the single automation
// subprocess connection (owned through the lifecycle manager), and the
// short-lived cache of the last verified discovery pass. All mutation goes
// through one goroutine; callers talk to it over request channels.
package registry

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/devbridge/internal/automation"
	"github.com/standardbeagle/devbridge/internal/discovery"
	"github.com/standardbeagle/devbridge/internal/protocol"
)

// Request types for channel operations.

type storeServersRequest struct {
	servers  []discovery.Server
	response chan struct{}
}

type cachedServersRequest struct {
	response chan cachedServersResult
}

type cachedServersResult struct {
	servers []discovery.Server
	fresh   bool
}

type clientForPortRequest struct {
	port        int
	endpointURL string // empty means "cache only"
	response    chan *protocol.Client
}

type invalidateRequest struct {
	response chan struct{}
}

// Registry is the process-wide state owner.
type Registry struct {
	automation *automation.Manager

	cacheTTL       time.Duration
	requestTimeout time.Duration
	log            *logrus.Entry

	// State below is owned exclusively by run().
	servers     []discovery.Server
	storedAt    time.Time
	httpClients map[int]*protocol.Client

	storeChan      chan storeServersRequest
	cachedChan     chan cachedServersRequest
	clientChan     chan clientForPortRequest
	invalidateChan chan invalidateRequest

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates and starts a registry. cacheTTL bounds how long a discovery
// pass may be used to resolve call targets; it is never authoritative for
// discovery responses themselves.
func New(mgr *automation.Manager, cacheTTL, requestTimeout time.Duration, log *logrus.Entry) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		automation:     mgr,
		cacheTTL:       cacheTTL,
		requestTimeout: requestTimeout,
		log:            log.WithField("component", "registry"),
		httpClients:    make(map[int]*protocol.Client),
		storeChan:      make(chan storeServersRequest),
		cachedChan:     make(chan cachedServersRequest),
		clientChan:     make(chan clientForPortRequest),
		invalidateChan: make(chan invalidateRequest),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	go r.run()
	return r
}

// run is the event loop owning all registry state.
func (r *Registry) run() {
	defer close(r.doneCh)
	for {
		select {
		case req := <-r.storeChan:
			r.handleStore(req)
		case req := <-r.cachedChan:
			r.handleCached(req)
		case req := <-r.clientChan:
			r.handleClientForPort(req)
		case req := <-r.invalidateChan:
			r.handleInvalidate(req)
		case <-r.stopCh:
			r.cleanup()
			return
		}
	}
}

func (r *Registry) handleStore(req storeServersRequest) {
	r.servers = req.servers
	r.storedAt = time.Now()

	// Connections to ports that vanished from the verified set are stale.
	verified := make(map[int]bool, len(req.servers))
	for _, server := range req.servers {
		verified[server.Port] = true
	}
	for port, client := range r.httpClients {
		if !verified[port] {
			client.Close()
			delete(r.httpClients, port)
		}
	}
	req.response <- struct{}{}
}

func (r *Registry) handleCached(req cachedServersRequest) {
	fresh := !r.storedAt.IsZero() && time.Since(r.storedAt) <= r.cacheTTL
	servers := make([]discovery.Server, len(r.servers))
	copy(servers, r.servers)
	req.response <- cachedServersResult{servers: servers, fresh: fresh}
}

func (r *Registry) handleClientForPort(req clientForPortRequest) {
	if client, ok := r.httpClients[req.port]; ok {
		req.response <- client
		return
	}

	endpointURL := req.endpointURL
	if endpointURL == "" {
		if !r.storedAt.IsZero() && time.Since(r.storedAt) <= r.cacheTTL {
			for _, server := range r.servers {
				if server.Port == req.port && server.Verified {
					endpointURL = server.EndpointURL
					break
				}
			}
		}
	}
	if endpointURL == "" {
		req.response <- nil
		return
	}

	client := protocol.NewClient(protocol.NewHTTPConn(endpointURL), r.requestTimeout)
	r.httpClients[req.port] = client
	req.response <- client
}

func (r *Registry) handleInvalidate(req invalidateRequest) {
	r.servers = nil
	r.storedAt = time.Time{}
	for port, client := range r.httpClients {
		client.Close()
		delete(r.httpClients, port)
	}
	req.response <- struct{}{}
}

func (r *Registry) cleanup() {
	for _, client := range r.httpClients {
		client.Close()
	}
	r.httpClients = make(map[int]*protocol.Client)
}

// Public API. Each call round-trips through the event loop.

// StoreServers caches the result of a verified discovery pass.
func (r *Registry) StoreServers(servers []discovery.Server) {
	resp := make(chan struct{})
	r.storeChan <- storeServersRequest{servers: servers, response: resp}
	<-resp
}

// CachedServers returns the last stored pass and whether it is still
// within the TTL.
func (r *Registry) CachedServers() ([]discovery.Server, bool) {
	respCh := make(chan cachedServersResult)
	r.cachedChan <- cachedServersRequest{response: respCh}
	result := <-respCh
	return result.servers, result.fresh
}

// ClientForPort returns the HTTP client for a verified port, creating one
// from the cached endpoint when needed. Returns nil when the port has no
// verified endpoint on record.
func (r *Registry) ClientForPort(port int) *protocol.Client {
	respCh := make(chan *protocol.Client)
	r.clientChan <- clientForPortRequest{port: port, response: respCh}
	return <-respCh
}

// RegisterEndpoint creates (or returns) the HTTP client for a freshly
// verified endpoint.
func (r *Registry) RegisterEndpoint(port int, endpointURL string) *protocol.Client {
	respCh := make(chan *protocol.Client)
	r.clientChan <- clientForPortRequest{port: port, endpointURL: endpointURL, response: respCh}
	return <-respCh
}

// Invalidate drops the discovery cache and all HTTP clients.
func (r *Registry) Invalidate() {
	resp := make(chan struct{})
	r.invalidateChan <- invalidateRequest{response: resp}
	<-resp
}

// Automation exposes the subprocess lifecycle manager. The registry owns
// the single subprocess connection through it.
func (r *Registry) Automation() *automation.Manager {
	return r.automation
}

// Stop shuts the registry down, closing all HTTP clients. The automation
// subprocess is stopped separately through its manager.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
