package configuration

import (
	"strings"

	"github.com/goccy/go-json"
)

// CommonOptions holds configuration fields shared by the node agent and
// the router, both of which embed it in their own process-specific
// options struct (domain.NodeAgentOptions, and the arras-router
// binary's Options in cmd/arras-router).
// Grounded on the teacher's CommonOptions (same tag-driven shape,
// same json/yaml/name/description tag set, goccy/go-json marshaling),
// trimmed from every docker/GPU/SMR/remote-storage field down to the
// handful genuinely shared across this spec's two processes.
type CommonOptions struct {
	DeploymentID string `name:"deployment_id" json:"deployment_id" yaml:"deployment_id" description:"Identifier of the cluster deployment this agent/router pair belongs to."`
	Datacenter   string `name:"datacenter" json:"datacenter" yaml:"datacenter" description:"Datacenter tag used when registering with and querying service discovery."`
	Environment  string `name:"environment" json:"environment" yaml:"environment" description:"Deployment environment tag (e.g. prod, staging) used when querying service discovery."`

	PrometheusPort     int  `name:"prometheus_port" json:"prometheus_port" yaml:"prometheus_port" description:"Port this process serves Prometheus metrics on."`
	PrometheusInterval int  `name:"prometheus_interval" json:"prometheus_interval" yaml:"prometheus_interval" description:"Frequency in seconds of Prometheus metric refresh."`
	DebugMode          bool `name:"debug_mode" json:"debug_mode" yaml:"debug_mode" description:"Enable verbose debug logging."`

	PrettyPrintOptions bool `name:"pretty_print_options" json:"pretty_print_options" yaml:"pretty_print_options" description:"Pretty-print the resolved Options struct on startup."`
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (opts *CommonOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(opts, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (opts *CommonOptions) Clone() *CommonOptions {
	clone := *opts
	return &clone
}

func (opts *CommonOptions) String() string {
	m, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(m)
}
