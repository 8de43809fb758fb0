package session

import "github.com/dreamworksanimation/arras4-node/common/ids"

// Resources names a computation's requested resource envelope (spec §6
// session definition, "requirements.resources").
type Resources struct {
	MemoryMB int     `json:"memoryMB"`
	Cores    float64 `json:"cores"`
	LogLevel int     `json:"logLevel"`
}

// Requirements names what a computation needs to run: a resource
// envelope plus the named context it draws its packaging/environment
// defaults from.
type Requirements struct {
	Resources Resources `json:"resources"`
	Context   string    `json:"context"`
}

// Messaging controls chunking of large application payloads.
type Messaging struct {
	DisableChunking     bool   `json:"disableChunking"`
	MinimumChunkingSize uint64 `json:"minimumChunkingSize"`
	ChunkSize           uint64 `json:"chunkSize"`
}

// ComputationDefinition is one entry of a session definition's
// "computations" map: the launch spec named in spec §3 ("program,
// args, environment, working directory, resource limits") plus
// messaging and packaging knobs.
type ComputationDefinition struct {
	Requirements     Requirements      `json:"requirements"`
	Program          string            `json:"program"`
	Args             []string          `json:"args,omitempty"`
	WorkingDirectory string            `json:"workingDirectory"`
	Messaging        Messaging         `json:"messaging"`
	Environment      map[string]string `json:"environment"`
	Packaging        string            `json:"packaging"`
}

// Context is a named bundle of environment/packaging defaults shared
// by computations that reference it.
type Context struct {
	Environment map[string]string `json:"environment"`
	Packaging   string            `json:"packaging"`
}

// Config is the "config" block of a session definition, keyed by the
// node id it applies to.
type Config struct {
	SessionId    ids.SessionId                    `json:"sessionId"`
	LogLevel     int                               `json:"logLevel,omitempty"`
	Contexts     map[string]Context                `json:"contexts"`
	Computations map[string]ComputationDefinition `json:"computations"`
}

// NodeRouting is one entry of the definition's "routing.<session>.nodes".
type NodeRouting struct {
	Host  string `json:"host"`
	IP    string `json:"ip"`
	Port  int    `json:"tcp"`
	Entry bool   `json:"entry,omitempty"`
}

// ComputationRouting is one entry of "routing.<session>.computations".
type ComputationRouting struct {
	NodeId        ids.NodeId        `json:"nodeId"`
	ComputationId ids.ComputationId `json:"compId"`
}

// UserInfo carries the client identity used to set the USER env var
// for spawned computations (spec §6, "Process environment").
type UserInfo struct {
	Name string `json:"name"`
}

// ClientData is the "routing.<session>.clientData" block.
type ClientData struct {
	UserInfo UserInfo `json:"userInfo"`
}

// Routing is one entry of the definition's top-level "routing" map,
// keyed by session id.
type Routing struct {
	Nodes        map[string]NodeRouting        `json:"nodes"`
	Computations map[string]ComputationRouting `json:"computations"`
	ClientData   ClientData                    `json:"clientData"`
}

// Definition is the full body of a create/modify request (spec §6).
type Definition struct {
	Config          map[string]Config        `json:"-"` // keyed by node id; populated from the top-level node-id keys
	Routing         map[string]Routing        `json:"routing"`
	MessageFilter   map[string]string          `json:"messageFilter,omitempty"`
}

// SignalName names one of the two signals the Session Manager accepts
// (spec 4.G "Signals").
type SignalName string

const (
	SignalRun         SignalName = "run"
	SignalEngineReady SignalName = "engineReady"
)

// Signal is the body of a signal() call; Run may carry updated
// client-addresser rules.
type Signal struct {
	Name            SignalName        `json:"name"`
	ClientAddresser map[string]string `json:"clientAddresser,omitempty"`
}

// Status is returned by get_status (spec §6 GET .../status).
type Status struct {
	SessionId    ids.SessionId      `json:"sessionId"`
	State        string             `json:"state"`
	Computations map[string]string `json:"computations"`
}

// ComputationResult is the success-path entry of a create/modify
// response for one computation (spec §8 scenario 1): the assigned
// computation id, the node it landed on, and the host id used for
// orchestrator status reporting (equal to CompId, per the spec's own
// example where hostId and compId share the same value).
type ComputationResult struct {
	CompId ids.ComputationId `json:"compId"`
	NodeId ids.NodeId        `json:"nodeId"`
	HostId ids.ComputationId `json:"hostId"`
}

// Response is returned by create/modify.
type Response struct {
	SessionId    ids.SessionId                `json:"sessionId"`
	Computations map[string]ComputationResult `json:"computations,omitempty"`
	Errors       map[string]string            `json:"errors,omitempty"`
}
