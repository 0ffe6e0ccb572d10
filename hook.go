package stapled

import (
	"bytes"
	"os/exec"

	"go.uber.org/zap"
)

// runHookCmd runs hookCmd with resp (the raw DER staple) on stdin, per
// spec.md §4.3's supplemented renewal-hook feature, and logs any captured
// stdout/stderr. A daemon has no terminal to forward a child's output to,
// unlike _examples/tbroyer-ocspd/cmd/internal/hook.go's RunHookCmd, which
// this is otherwise adapted from.
func runHookCmd(logger *zap.Logger, path, hookCmd string, resp []byte) error {
	cmd := exec.Command(hookCmd)
	cmd.Stdin = bytes.NewReader(resp)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if stdout.Len() > 0 {
		logger.Debug("hook stdout", zap.String("path", path), zap.ByteString("output", stdout.Bytes()))
	}
	if stderr.Len() > 0 {
		logger.Debug("hook stderr", zap.String("path", path), zap.ByteString("output", stderr.Bytes()))
	}
	return err
}
