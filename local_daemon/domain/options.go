package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Scusemua/go-utils/config"

	"github.com/dreamworksanimation/arras4-node/common/configuration"
)

// NodeAgentOptions configures a single node agent + router pair.
// Grounded on the teacher's tag-driven LocalDaemonOptions: a flat
// struct whose fields carry `name`/`description`/`yaml`/`json` tags
// consumed by Scusemua/go-utils' flag/env/file loader, plus an embedded
// config.LoggerOptions for the logging knobs and the agent/router-shared
// configuration.CommonOptions.
type NodeAgentOptions struct {
	config.LoggerOptions      `yaml:",inline" json:"logger_options"`
	configuration.CommonOptions `yaml:",inline" json:"common_options"`

	NodeName   string `name:"node_name" description:"Human-readable node name used in logs and registration." yaml:"node_name" json:"node_name"`
	ConsulAddr string `name:"consul" description:"Consul agent address used for service discovery registration." yaml:"consul" json:"consul"`
	OrchestratorURL string `name:"orchestrator_url" description:"Base URL of the orchestrator's session/host REST API." yaml:"orchestrator_url" json:"orchestrator_url"`
	JaegerAddr string `name:"jaeger" description:"Jaeger agent address for distributed tracing spans." yaml:"jaeger" json:"jaeger"`

	HTTPPort          int `name:"port" description:"Port the node agent's HTTP control surface listens on. 0 lets the OS choose." yaml:"port" json:"port"`
	HTTPThreadPoolMax int `name:"http_thread_pool_max" description:"Maximum concurrent HTTP request handlers." yaml:"http_thread_pool_max" json:"http_thread_pool_max"`

	IPCDir string `name:"ipc_dir" description:"Directory containing the router<->agent local-domain socket." yaml:"ipc_dir" json:"ipc_dir"`

	BanThreshold int `name:"ban_threshold" description:"Unknown-endpoint request count within the sliding window that triggers a ban." yaml:"ban_threshold" json:"ban_threshold"`
	BanWindowSec int `name:"ban_window_sec" description:"Sliding window size, in seconds, over which unknown-endpoint requests are counted." yaml:"ban_window_sec" json:"ban_window_sec"`

	RouterRegisterTimeoutSec int `name:"router_register_timeout_sec" description:"Seconds to wait for the router's Acknowledge reply when registering a new session." yaml:"router_register_timeout_sec" json:"router_register_timeout_sec"`

	PreemptionPollIntervalSec int `name:"preemption_poll_interval_sec" description:"Seconds between polls of the instance metadata service for a spot interruption notice. 0 disables preemption watching." yaml:"preemption_poll_interval_sec" json:"preemption_poll_interval_sec"`

	TotalCores float64 `name:"total_cores" description:"Total reservable core budget used by the process supervisor's loan pool." yaml:"total_cores" json:"total_cores"`

	DefaultPackaging string `name:"default_packaging" description:"Packaging wrapper applied to computations that don't specify one." yaml:"default_packaging" json:"default_packaging"`

	Tags map[string]string `name:"tags" description:"Key/value tags advertised with the agent's registration (exclusive_user, exclusive_production, exclusive_team, over_subscribe)." yaml:"tags" json:"tags"`
}

// Validate applies defaults and checks the cross-field tag rules from
// spec 6 ("Unknown tags accepted during registration"): over_subscribe
// is required when exclusive_user is set, and exclusive_production is
// required when exclusive_team is set.
func (o *NodeAgentOptions) Validate() error {
	if o.IPCDir == "" {
		fmt.Printf("[WARNING] ipc_dir not set. Using default value: \"%s\".\n", DefaultIPCDir)
		o.IPCDir = DefaultIPCDir
	}
	if o.HTTPThreadPoolMax <= 0 {
		o.HTTPThreadPoolMax = DefaultHTTPThreadPoolMax
	}
	if o.BanThreshold <= 0 {
		o.BanThreshold = DefaultBanThreshold
	}
	if o.BanWindowSec <= 0 {
		o.BanWindowSec = DefaultBanWindow
	}
	if o.RouterRegisterTimeoutSec <= 0 {
		o.RouterRegisterTimeoutSec = DefaultRouterRegisterTimeout
	}
	if o.DefaultPackaging == "" {
		o.DefaultPackaging = "rez1"
	}

	if _, exclusiveUser := o.Tags[TagExclusiveUser]; exclusiveUser {
		if _, overSubscribe := o.Tags[TagOverSubscribe]; !overSubscribe {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidTagCombination, TagExclusiveUser, TagOverSubscribe)
		}
	}
	if _, exclusiveTeam := o.Tags[TagExclusiveTeam]; exclusiveTeam {
		if _, exclusiveProduction := o.Tags[TagExclusiveProduction]; !exclusiveProduction {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidTagCombination, TagExclusiveTeam, TagExclusiveProduction)
		}
	}

	return nil
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *NodeAgentOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(o, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *NodeAgentOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// ValidateTagUpdate checks a proposed tag delta against the same
// cross-field rules as Validate, without mutating o. Used by the
// PUT /node/tags handler (spec 6, R3) to reject an update with 400
// before it's applied.
func ValidateTagUpdate(existing, update map[string]string) error {
	merged := make(map[string]string, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}

	if _, exclusiveUser := merged[TagExclusiveUser]; exclusiveUser {
		if _, overSubscribe := merged[TagOverSubscribe]; !overSubscribe {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidTagCombination, TagExclusiveUser, TagOverSubscribe)
		}
	}
	if _, exclusiveTeam := merged[TagExclusiveTeam]; exclusiveTeam {
		if _, exclusiveProduction := merged[TagExclusiveProduction]; !exclusiveProduction {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidTagCombination, TagExclusiveTeam, TagExclusiveProduction)
		}
	}

	return nil
}
