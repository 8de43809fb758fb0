package domain

import "errors"

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrUnknownSession       = errors.New("unknown session id")
	ErrUnknownComputation   = errors.New("unknown computation id")
	ErrUpdateAlreadyRunning = errors.New("tag update already in progress")
	ErrInvalidTagCombination = errors.New("invalid tag combination")
	ErrSessionBusy          = errors.New("session has an operation in progress")
	ErrRouterRegisterTimeout = errors.New("timed out waiting for router registration acknowledgement")
	ErrIPCSocketMissing     = errors.New("router IPC socket file missing")
	ErrIPCSocketPermission  = errors.New("router IPC socket file has incorrect permissions")
	ErrIPCSocketNotSocket   = errors.New("router IPC socket path is not a socket")
	ErrNodeClosed           = errors.New("node is closed to new sessions")
	ErrInvalidShutdownMode  = errors.New("invalid shutdown mode")
)
