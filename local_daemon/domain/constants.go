package domain

const (
	DefaultIPCDir       = "/tmp/arras"
	IPCSocketNamePrefix = "arrasnodeipc-"
	IPCSocketPermission = 0700

	DefaultHTTPPort          = 0 // 0: OS picks an ephemeral port
	DefaultHTTPThreadPoolMax = 16

	DefaultBanThreshold   = 5
	DefaultBanWindow      = 300 // seconds
	DefaultRouterRegisterTimeout = 10 // seconds, per spec 4.G "Create"

	DefaultPreemptionPollInterval = 15 // seconds, EC2 spot interruption notice polling
	DefaultRootPartitionMaxUsage  = 98 // percent, health check threshold

	TagExclusiveUser       = "exclusive_user"
	TagExclusiveProduction = "exclusive_production"
	TagExclusiveTeam       = "exclusive_team"
	TagOverSubscribe       = "over_subscribe"

	// Agent binary exit codes (spec §6).
	ExitNormal        = 0
	ExitInitFailure   = -1
	ExitUnhandledPanic = -3
)

// ShutdownMode describes how the agent should present itself to the
// orchestrator and local HTTP clients while it is stopping.
type ShutdownMode string

const (
	// ShutdownModeNone is the default, fully-operational state.
	ShutdownModeNone ShutdownMode = ""
	// ShutdownModeShutdown tears every session down now.
	ShutdownModeShutdown ShutdownMode = "shutdown"
	// ShutdownModeClose stops accepting new sessions but keeps serving
	// sessions already running.
	ShutdownModeClose ShutdownMode = "close"
	// ShutdownModeUnregistered deregisters from service discovery
	// without a controlled drain (used when discovery already evicted
	// the node).
	ShutdownModeUnregistered ShutdownMode = "unregistered"
)
