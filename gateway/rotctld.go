package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/rotator"
)

// Hamlib RPRT codes.
const (
	rprtOK       = 0
	rprtEINVAL   = -1
	rprtEIO      = -6
	rprtETIMEOUT = -5
	rprtEPROTO   = -8
	rprtEREJECT  = -9
	rprtBadArgs  = -22
)

// Hamlib move directions.
var moves = map[int]func(rotator.Mover) error{
	2:  rotator.Mover.Up,
	4:  rotator.Mover.Down,
	8:  rotator.Mover.Left,
	16: rotator.Mover.Right,
}

func rprt(err error) int {
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, k3ng.ErrValidation):
		return rprtBadArgs
	case errors.Is(err, k3ng.ErrNoResponse):
		return rprtETIMEOUT
	case errors.Is(err, k3ng.ErrMalformedResponse):
		return rprtEPROTO
	case errors.Is(err, k3ng.ErrDeviceRejected):
		return rprtEREJECT
	}
	return rprtEIO
}

// ListenRotctld accepts Hamlib rotctld clients on addr until ctx is canceled.
func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go s.handleRotctld(conn)
		}
	}()
	return nil
}

func (s *Server) locked(f func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f()
}

func (s *Server) handleRotctld(conn io.ReadWriteCloser) {
	defer conn.Close()
	remote := "pipe"
	if c, ok := conn.(net.Conn); ok {
		remote = c.RemoteAddr().String()
	}
	log.Info().Str("remote", remote).Msg("accepted rotctld connection")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := strings.TrimRight(scanner.Text(), "\r")
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		log.Debug().Str("remote", remote).Str("cmd", cmd).Strs("args", args).Msg("rotctld command")
		code := rprtEINVAL
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprint(conn, `Model name: K3NG
Mfg name: K3NG
Rot type: Az-El
Min Azimuth: 0.00
Max Azimuth: 360.00
Min Elevation: 0.00
Max Elevation: 180.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: Y
Can get Info: Y
`)
			code = rprtOK
		case "_", "get_info":
			var version string
			err := s.locked(func() (err error) {
				version, err = s.svc.Version()
				return
			})
			if err == nil {
				if extended {
					fmt.Fprintf(conn, "Info: %s\n", version)
				} else {
					fmt.Fprintf(conn, "%s\n", version)
				}
			}
			code = rprt(err)
		case "S", "stop":
			extended = true // always print RPRT
			code = rprt(s.locked(s.svc.Stop))
		case "K", "park":
			extended = true // always print RPRT
			code = rprt(s.locked(s.svc.Park))
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				code = rprtBadArgs
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				code = rprtBadArgs
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				code = rprtBadArgs
				break
			}
			if az < 0 {
				az += 360
			}
			code = rprt(s.locked(func() error {
				return rotator.Goto(s.svc, rotator.Position{Azimuth: az, Elevation: el})
			}))
		case "M", "move":
			extended = true // always print RPRT
			if len(args) != 2 {
				code = rprtBadArgs
				break
			}
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				code = rprtBadArgs
				break
			}
			// The controller has no speed control.
			if _, err := strconv.Atoi(args[1]); err != nil {
				code = rprtBadArgs
				break
			}
			move, ok := moves[dir]
			if !ok {
				code = rprtBadArgs
				break
			}
			code = rprt(s.locked(func() error { return move(s.svc) }))
		case "p", "get_pos":
			var pos rotator.Position
			err := s.locked(func() (err error) {
				pos, err = rotator.Read(s.svc)
				return
			})
			if err == nil {
				if extended {
					fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", pos.Azimuth, pos.Elevation)
				} else {
					fmt.Fprintf(conn, "%.6f\n%.6f\n", pos.Azimuth, pos.Elevation)
				}
			}
			code = rprt(err)
		}
		if extended || code != rprtOK {
			fmt.Fprintf(conn, "RPRT %d\n", code)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", remote, err)
	}
}
