package logx

import (
	"net/netip"

	"pkt.systems/pslog"
)

// WithEndpoint annotates the logger with the remote endpoint when it is valid.
func WithEndpoint(log pslog.Logger, addr netip.AddrPort, filePath string) pslog.Logger {
	if addr.IsValid() {
		log = log.With("endpoint", addr.String())
	}
	if filePath != "" {
		log = log.With("bound_file", filePath)
	}
	return log
}

// WithPath annotates the logger with a local document path.
func WithPath(log pslog.Logger, path string) pslog.Logger {
	if path != "" {
		log = log.With("path", path)
	}
	return log
}
