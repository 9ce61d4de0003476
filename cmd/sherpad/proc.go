package main

import "syscall"

// detachedProcAttr puts the spawned daemon in its own process group so it
// survives the parent CLI invocation exiting, matching
// pkg/newtlab/bridge.go's startBridgeProcess.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
