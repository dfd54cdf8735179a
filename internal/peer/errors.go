package peer

import "errors"

var (
	// ErrConnection is wrapped by every failure to establish a session:
	// unknown remote id, unreachable peer, timeout or a rejected handshake.
	ErrConnection = errors.New("peer connection failed")

	// ErrNotConnected is returned by Send when the session is not open.
	ErrNotConnected = errors.New("peer not connected")

	// ErrAlreadyListening is returned by a second call to Listen.
	ErrAlreadyListening = errors.New("node already listening")

	// ErrNodeClosed is returned by operations on a closed node.
	ErrNodeClosed = errors.New("node closed")
)
