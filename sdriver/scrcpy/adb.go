package scrcpy

import (
	"context"
	"fmt"
	"net"
	"strings"

	"adbcast/adb"
	wire "adbcast/scrcpy"
)

// pushServer copies the server binary to the device, verifying its size.
func (s *Session) pushServer(ctx context.Context) error {
	if s.cfg.ServerJar == "" {
		return fmt.Errorf("push scrcpy-server: no local server binary configured")
	}
	s.logger.Debug().Str("local", s.cfg.ServerJar).Str("remote", s.cfg.RemotePath).Msg("pushing server")
	if err := s.cfg.ADB.PushFile(ctx, s.cfg.Serial, s.cfg.ServerJar, s.cfg.RemotePath); err != nil {
		return fmt.Errorf("push scrcpy-server: %w", err)
	}
	return nil
}

// startServer execs the server through a shell whose stream stays open as
// the server's log.
func (s *Session) startServer(ctx context.Context) (*adb.Conn, error) {
	cmd := serverCommand(s.cfg.RemotePath, s.cfg.Version, s.opts)
	s.logger.Info().Str("cmd", cmd).Msg("starting scrcpy server")
	conn, err := s.cfg.ADB.OpenShell(ctx, s.cfg.Serial, cmd)
	if err != nil {
		return nil, fmt.Errorf("start scrcpy-server: %w", err)
	}
	return conn, nil
}

func serverCommand(remotePath, version string, opts wire.Options) string {
	args := []string{
		"CLASSPATH=" + remotePath,
		"app_process",
		"/",
		serverClass,
		version,
	}
	return strings.Join(append(args, opts.Args()...), " ")
}

// openSocket connects to the server's abstract socket. The server accepts
// video, audio and control connections in that order. The open is retried
// until the server is listening.
func (s *Session) openSocket(ctx context.Context, purpose string) (net.Conn, error) {
	conn, err := s.cfg.ADB.OpenLocalSocket(ctx, s.cfg.Serial, wire.SocketName(s.cfg.SCID))
	if err != nil {
		return nil, fmt.Errorf("open %s socket: %w", purpose, err)
	}
	if tc, ok := conn.Conn.(*net.TCPConn); ok {
		switch purpose {
		case "video":
			tc.SetReadBuffer(2 << 20)
		case "audio":
			tc.SetReadBuffer(64 << 10)
		}
	}
	return conn, nil
}
