// Command arras-node is the per-host worker-node agent (spec 4.H): it
// starts its sibling router process, dials the router's control
// socket, and serves the HTTP control surface that the orchestrator
// drives session lifecycle through. Grounded on the teacher's
// scheduler.go entrypoint: config.ValidateOptions for flags, a single
// signal channel, a recover-and-exit finalize, and a supporting-process
// handshake before the main server loop starts (there the scheduler
// dialed its provisioner; here the agent execs and dials its router).
package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/fsnotify/fsnotify"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/agent"
	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
	"github.com/dreamworksanimation/arras4-node/local_daemon/ipc"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

// Options extends the shared NodeAgentOptions with the flags this
// binary alone needs: where to find its router sibling and how long to
// wait for it to come up.
type Options struct {
	domain.NodeAgentOptions `yaml:",inline"`

	RouterBinPath        string `name:"router_bin" description:"Path to the arras-router binary." yaml:"router_bin" json:"router_bin"`
	RouterListenTCP      string `name:"router_listen_tcp" description:"Address the router listens on for NODE/CLIENT/EXECUTOR peers." yaml:"router_listen_tcp" json:"router_listen_tcp"`
	RouterStartupTimeoutSec int `name:"router_startup_timeout_sec" description:"Seconds to wait for the router's control socket to appear before giving up." yaml:"router_startup_timeout_sec" json:"router_startup_timeout_sec"`
}

func (o Options) String() string {
	return fmt.Sprintf("RouterBinPath: %s, RouterListenTCP: %s, %s", o.RouterBinPath, o.RouterListenTCP, o.NodeAgentOptions.String())
}

var (
	options = Options{}
	logger  = config.GetLogger("")
	sig     = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	options.RouterBinPath = "arras-router"
	options.RouterListenTCP = ":7070"
	options.RouterStartupTimeoutSec = 10
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

	if err := options.NodeAgentOptions.Validate(); err != nil {
		logger.Error("invalid options: %v", err)
		os.Exit(domain.ExitInitFailure)
	}

	nodeId := ids.New()
	if options.NodeName == "" {
		options.NodeName = nodeId.String()
	}

	if options.CommonOptions.PrettyPrintOptions {
		logger.Info("Starting node agent %s with options:\n%s", nodeId, options.PrettyString(2))
	} else {
		logger.Info("Starting node agent %s (%s)", nodeId, options.NodeName)
	}

	if err := ipc.EnsureIPCDir(options.IPCDir); err != nil {
		logger.Error("failed to create ipc dir %q: %v", options.IPCDir, err)
		os.Exit(domain.ExitInitFailure)
	}
	socketPath := ipc.SocketPath(options.IPCDir, nodeId)

	routerProc, err := startRouter(nodeId, socketPath)
	if err != nil {
		logger.Error("failed to start router: %v", err)
		os.Exit(domain.ExitInitFailure)
	}

	routerClient, err := dialRouter(socketPath, nodeId, time.Duration(options.RouterStartupTimeoutSec)*time.Second)
	if err != nil {
		logger.Error("failed to connect to router: %v", err)
		_ = routerProc.Process.Kill()
		os.Exit(domain.ExitInitFailure)
	}
	defer routerClient.Close()

	var pool *invoker.CgroupPool
	if options.TotalCores > 0 {
		pool = invoker.NewCgroupPool(int64(options.TotalCores))
	}
	factory := func(sessionId ids.SessionId, computationId ids.ComputationId) invoker.Supervisor {
		return invoker.NewLocalSupervisor(pool)
	}

	nodeAgent, err := agent.New(nodeId, &options.NodeAgentOptions, routerClient, session.SupervisorFactory(factory))
	if err != nil {
		logger.Error("failed to construct node agent: %v", err)
		os.Exit(domain.ExitInitFailure)
	}

	go func() {
		<-sig
		logger.Info("shutting down node agent")
		for _, err := range nodeAgent.Close("process received shutdown signal", 30*time.Second) {
			logger.Error("error during shutdown: %v", err)
		}
		_ = routerProc.Process.Signal(syscall.SIGTERM)
		os.Exit(domain.ExitNormal)
	}()

	if err := nodeAgent.Run(options.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("node agent server exited: %v", err)
		_ = routerProc.Process.Signal(syscall.SIGTERM)
		os.Exit(domain.ExitUnhandledPanic)
	}
}

// startRouter launches the sibling router process, pointed at the same
// control socket the agent will dial (spec: "the agent process starts
// the router process as a child; they communicate via a local-domain
// socket").
func startRouter(nodeId ids.NodeId, socketPath string) (*exec.Cmd, error) {
	cmd := exec.Command(options.RouterBinPath,
		"--node_id", nodeId.String(),
		"--listen_tcp", options.RouterListenTCP,
		"--listen_unix", socketPath,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// dialRouter waits for the router's control socket to appear and dials
// it, since the child process needs a moment to create the listener
// after exec. An immediate dial attempt covers the case where the
// socket already exists (e.g. left behind by a prior run); otherwise it
// watches the socket's parent directory for the socket's creation
// rather than busy-polling.
func dialRouter(socketPath string, nodeId ids.NodeId, timeout time.Duration) (*ipc.Client, error) {
	if client, err := ipc.Dial(socketPath, nodeId); err == nil {
		return client, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating socket watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(socketPath)); err != nil {
		return nil, fmt.Errorf("watching ipc dir: %w", err)
	}

	deadline := time.After(timeout)
	for {
		select {
		case event := <-watcher.Events:
			if event.Name != socketPath || event.Op&fsnotify.Create == 0 {
				continue
			}
			if client, err := ipc.Dial(socketPath, nodeId); err == nil {
				return client, nil
			}
		case err := <-watcher.Errors:
			return nil, fmt.Errorf("watching router control socket: %w", err)
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for router control socket %q", socketPath)
		}
	}
}

func finalize() {
	if err := recover(); err != nil {
		logger.Error("unhandled panic: %v", err)
		os.Exit(domain.ExitUnhandledPanic)
	}
}
