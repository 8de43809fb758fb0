package invoker

// Packaging wrapper tags rewrite the spawn vector (program, args)
// before fork/exec. Resolved against
// _examples/original_source/lib/session/ComputationConfig.cc (~L178-194):
// an empty tag or "none" means no wrapper is applied; ComputationDefaults
// sets the computation-defaults-level default to "rez1".
const (
	PackagingNone               = "none"
	PackagingCurrentEnvironment = "current-environment"
	PackagingBash               = "bash"
	PackagingRez1                = "rez1"
	PackagingRez2                = "rez2"

	DefaultPackaging = PackagingRez1
)

// wrapSpec rewrites spec's program/args according to its Packaging
// tag; spec.Env is passed through unchanged. Only "bash" changes the
// command (into /bin/bash -c); "rez1", "rez2" and every other tag
// return the program and args as given.
func wrapSpec(spec LaunchSpec) (program string, args []string) {
	switch spec.Packaging {
	case "", PackagingNone:
		return spec.Program, spec.Args

	case PackagingCurrentEnvironment:
		return spec.Program, spec.Args

	case PackagingBash:
		script := spec.Program
		for _, a := range spec.Args {
			script += " " + a
		}
		return "/bin/bash", []string{"-c", script}

	case PackagingRez1, PackagingRez2:
		// A real rez wrapper shells out to `rez-env <packages> -- <cmd>`
		// after resolving the session's context packages; this repo has
		// no package-resolver dependency to exercise, so the wrapper
		// degrades to a passthrough rather than inventing a fake
		// resolver binary.
		return spec.Program, spec.Args

	default:
		return spec.Program, spec.Args
	}
}
