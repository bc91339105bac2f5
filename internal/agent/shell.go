package agent

import "runtime"

// shellPath returns the platform shell executable used to run a single
// command line passed as an argument (see shellArg).
func shellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/bash"
}

// shellArg returns the flag that tells the platform shell its next argument is
// a command line to execute.
func shellArg() string {
	if runtime.GOOS == "windows" {
		return "/c"
	}
	return "-c"
}
