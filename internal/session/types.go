package session

import (
	"net/netip"
	"path/filepath"
)

// State is the lifecycle state of the session manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateDiscovering  State = "discovering"
	StateConnected    State = "connected"
)

// Endpoint is the bound remote execution target.
type Endpoint struct {
	Address  netip.Addr `json:"address"`
	Port     int        `json:"port"`
	FilePath string     `json:"filePath"`
}

// AddrPort is the datagram destination for the endpoint.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Address, uint16(e.Port))
}

// Owns reports whether path is the document this endpoint is authoritative for.
func (e Endpoint) Owns(path string) bool {
	if e.FilePath == "" || path == "" {
		return false
	}
	return filepath.Clean(e.FilePath) == filepath.Clean(path)
}

// Candidate is an unconfirmed endpoint collected during one discovery round.
type Candidate struct {
	Address  netip.Addr `json:"address"`
	Port     int        `json:"port"`
	FilePath string     `json:"filePath"`
}

// Endpoint promotes the candidate to a bound endpoint.
func (c Candidate) Endpoint() Endpoint {
	return Endpoint{Address: c.Address, Port: c.Port, FilePath: c.FilePath}
}
