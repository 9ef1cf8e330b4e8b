package network

import "errors"

// ErrNegotiationTimeout is returned when a negotiation does not complete within
// the allotted wait.
var ErrNegotiationTimeout = errors.New("timeout waiting for negotiation")

// ErrUnknownRequest is returned when waiting on a request that was never
// issued or was already resolved.
var ErrUnknownRequest = errors.New("unknown negotiation request")

// ErrUnknownParticipant is returned for participants not registered on the network.
var ErrUnknownParticipant = errors.New("unknown participant")

// ErrClosed is returned by networks that were shut down.
var ErrClosed = errors.New("network shut down")
