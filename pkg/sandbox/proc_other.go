//go:build !unix

package sandbox

import "os/exec"

// setProcessGroup kills only the direct child on platforms without
// process groups.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
