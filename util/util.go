package util

import "os/exec"

// ShellCommandExists reports whether cmd is resolvable on PATH, grounded on
// phenix/util.ShellCommandExists's "which"-based existence check.
func ShellCommandExists(cmd string) bool {
	err := exec.Command("which", cmd).Run()
	return err == nil
}
