package session

import "errors"

var (
	// ErrNoCandidates means the discovery window closed without any reply.
	ErrNoCandidates = errors.New("no janim instance found")
	// ErrNotConnected means an action needed a bound endpoint and none was set.
	ErrNotConnected = errors.New("not connected to a janim instance")
)
