// Command arras-router runs the in-host message router (spec 4.E) as
// the agent's sibling process: it accepts peer connections over TCP
// and a local-domain control socket and forwards envelopes according
// to its session routing table. It is started as a child of
// arras-node and never invoked standalone in production, but takes its
// own flags so it can be exercised in isolation.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"

	"github.com/dreamworksanimation/arras4-node/common/configuration"
	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
	"github.com/dreamworksanimation/arras4-node/router/core"
)

// Options are the router binary's command-line/env/file-driven flags,
// grounded on the same config.LoggerOptions + CommonOptions + flat
// flag-tagged fields shape as domain.NodeAgentOptions.
type Options struct {
	config.LoggerOptions       `yaml:",inline" json:"logger_options"`
	configuration.CommonOptions `yaml:",inline" json:"common_options"`

	NodeId     string `name:"node_id" description:"This node's id. Must match the co-located agent's node id." yaml:"node_id" json:"node_id"`
	ListenTCP  string `name:"listen_tcp" description:"Address to accept NODE/CLIENT/EXECUTOR peer connections on." yaml:"listen_tcp" json:"listen_tcp"`
	ListenUnix string `name:"listen_unix" description:"Path of the local-domain socket shared with the co-located agent and local computations." yaml:"listen_unix" json:"listen_unix"`
}

func (o Options) String() string {
	return fmt.Sprintf("NodeId: %s, ListenTCP: %s, ListenUnix: %s, %s", o.NodeId, o.ListenTCP, o.ListenUnix, o.CommonOptions.String())
}

var (
	options = Options{}
	logger  = config.GetLogger("")
	sig     = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	options.ListenTCP = ":7070"
}

func main() {
	defer finalize()

	flags, err := config.ValidateOptions(&options)
	if err == config.ErrPrintUsage {
		flags.PrintDefaults()
		os.Exit(domain.ExitNormal)
	} else if err != nil {
		log.Fatal(err)
	}

	if options.NodeId == "" {
		logger.Error("node_id is required")
		os.Exit(domain.ExitInitFailure)
	}
	nodeId, err := ids.Parse(options.NodeId)
	if err != nil {
		logger.Error("invalid node_id %q: %v", options.NodeId, err)
		os.Exit(domain.ExitInitFailure)
	}

	if options.PrettyPrintOptions {
		logger.Info("Starting router with options:\n%s", options.PrettyString(2))
	} else {
		logger.Info("Starting router for node %s", nodeId)
	}

	router := core.New(core.Config{
		NodeId:     nodeId,
		ListenTCP:  options.ListenTCP,
		ListenUnix: options.ListenUnix,
	})

	if err := router.Start(); err != nil {
		logger.Error("failed to start router: %v", err)
		os.Exit(domain.ExitInitFailure)
	}
	logger.Info("router listening [tcp: %s, unix: %s]", options.ListenTCP, options.ListenUnix)

	<-sig
	logger.Info("shutting down router")
	router.Stop()
}

func finalize() {
	if err := recover(); err != nil {
		logger.Error("unhandled panic: %v", err)
		os.Exit(domain.ExitUnhandledPanic)
	}
}
