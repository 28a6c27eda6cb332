package recorder

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Launcher starts one muxer process per recording. The muxer is called
// as `<command...> <sessionId> <listenAddr> <outputPath> <format>`.
type Launcher struct {
	Command    []string
	ListenAddr string
}

// NewLauncher returns nil for an empty command; muxers are then expected
// to be started by someone else.
func NewLauncher(command []string, listenAddr string) *Launcher {
	if len(command) == 0 {
		return nil
	}
	return &Launcher{Command: command, ListenAddr: listenAddr}
}

// Start runs the muxer detached from any request context; the bridge
// reaps it when the recording stops.
func (l *Launcher) Start(sessionID, output, format string, logger zerolog.Logger) (*exec.Cmd, error) {
	args := append(append([]string{}, l.Command[1:]...), sessionID, l.ListenAddr, output, format)
	cmd := exec.Command(l.Command[0], args...)
	cmd.Stdout = logWriter{logger}
	cmd.Stderr = logWriter{logger}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start muxer: %w", ErrRecorder, err)
	}
	logger.Debug().Int("pid", cmd.Process.Pid).Str("output", output).Msg("muxer started")
	return cmd, nil
}

type logWriter struct {
	logger zerolog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Str("muxer", string(p)).Send()
	return len(p), nil
}
