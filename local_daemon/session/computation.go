package session

import (
	"strconv"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
)

// Computation is one spawned child process belonging to a session,
// paired with the requirements it was created from so Modify can diff
// against a fresh definition.
type Computation struct {
	Name         string
	Id           ids.ComputationId
	Requirements Requirements
	Definition   ComputationDefinition

	Supervisor invoker.Supervisor
}

// Environment builds the process environment for this computation's
// child process (spec §6 "Process environment the agent sets for each
// computation"): fixed Athena keys, USER from the client's routing
// data, and the union of the chosen context's and the computation's
// own declared environment (computation keys win on conflict).
func (c *Computation) Environment(user, athenaEnv, athenaHost string, athenaPort int, breakpadPath string, context Context) map[string]string {
	env := make(map[string]string)
	if user != "" {
		env["USER"] = user
	}
	if athenaEnv != "" {
		env["ARRAS_ATHENA_ENV"] = athenaEnv
	}
	if athenaHost != "" {
		env["ARRAS_ATHENA_HOST"] = athenaHost
	}
	if athenaPort != 0 {
		env["ARRAS_ATHENA_PORT"] = strconv.Itoa(athenaPort)
	}
	if breakpadPath != "" {
		env["ARRAS_BREAKPAD_PATH"] = breakpadPath
	}
	for k, v := range context.Environment {
		env[k] = v
	}
	for k, v := range c.Definition.Environment {
		env[k] = v
	}
	return env
}
