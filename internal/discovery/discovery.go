// Package discovery finds local dev-server processes that expose the
// bridge's debug protocol endpoint. Candidates come from a fixed port list
// and from a process-table scan; verification probes every candidate
// concurrently under a bounded deadline.
package discovery

import "fmt"

// Candidate is a process believed to be listening on Port, discovered by
// port or process-table inspection and not yet protocol-verified. Created
// per discovery pass and discarded at its end.
type Candidate struct {
	Port    int    `json:"port"`
	PID     int    `json:"pid,omitempty"`
	Command string `json:"command,omitempty"`
}

// Server is a discovery result. Verified servers carry the probed endpoint
// URL; unverified ones are returned only when the caller opted out of
// verification and are marked accordingly. Results are valid for the
// duration of one discovery response; callers re-verify rather than trust
// staleness.
type Server struct {
	Candidate
	Verified    bool   `json:"verified"`
	EndpointURL string `json:"endpointUrl,omitempty"`
}

func (s Server) String() string {
	if s.Verified {
		return fmt.Sprintf("port %d (%s)", s.Port, s.EndpointURL)
	}
	return fmt.Sprintf("port %d (unverified)", s.Port)
}
