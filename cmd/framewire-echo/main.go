// Command framewire-echo is a small end-to-end exercise of the framewire
// library: a "serve" subcommand runs an echo server, and a "connect"
// subcommand dials it and round-trips a message.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/framewire/framewire"
	"github.com/framewire/framewire/wsconfig"
	"github.com/framewire/framewire/wshttp"
)

func main() {
	cmd := &cli.Command{
		Name:  "framewire-echo",
		Usage: "run or drive a minimal WebSocket echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a framewire-echo TOML config file",
				Value: "framewire.toml",
			},
			&cli.BoolFlag{
				Name:  "pretty-log",
				Usage: "human-readable console logging instead of JSON",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			connectCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger at the level named by cfg.LogLevel,
// writing console-formatted output when --pretty-log is set and JSON
// otherwise.
func newLogger(cmd *cli.Command, cfg wsconfig.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("wsconfig: invalid log_level %q: %w", cfg.LogLevel, err)
	}

	var w zerolog.Logger
	if cmd.Bool("pretty-log") {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		w = zerolog.New(os.Stderr)
	}
	return w.Level(level).With().Timestamp().Logger(), nil
}

func loadConfig(cmd *cli.Command) (wsconfig.Config, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return wsconfig.Defaults, nil
	}
	return wsconfig.Load(path)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the echo server until interrupted",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			server, err := wshttp.Bind(cfg.ListenAddr, logger)
			if err != nil {
				return err
			}
			defer server.Close()

			logger.Info().Str("addr", cfg.ListenAddr).Dur("idle_timeout", cfg.IdleTimeout).Msg("framewire-echo serving")

			for {
				socket, err := server.NextSocket(ctx)
				if err != nil {
					return err
				}
				go echoLoop(ctx, logger, socket.Conn, cfg.IdleTimeout)
			}
		},
	}
}

// echoLoop drains frames from conn and echoes them back, replying to pings
// with pongs at the application layer. idleTimeout, if positive, bounds how
// long NextFrame may wait for the next inbound frame before the connection
// is dropped as idle.
func echoLoop(ctx context.Context, logger zerolog.Logger, conn *framewire.Connection, idleTimeout time.Duration) {
	defer conn.Close()

	for {
		frameCtx := ctx
		var cancel context.CancelFunc
		if idleTimeout > 0 {
			frameCtx, cancel = context.WithTimeout(ctx, idleTimeout)
		}
		frame, err := conn.NextFrame(frameCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			logger.Info().Str("conn_id", conn.ID).Err(err).Msg("connection ended")
			return
		}

		switch frame.Opcode {
		case framewire.OpClose:
			return
		case framewire.OpPing:
			payload, err := frame.Payload.Collect(ctx)
			if err != nil {
				return
			}
			if err := conn.SendFrame(ctx, framewire.OpPong, [3]bool{}, payload); err != nil {
				return
			}
		default:
			payload, err := frame.Payload.Collect(ctx)
			if err != nil {
				return
			}
			if err := conn.SendFrame(ctx, frame.Opcode, [3]bool{}, payload); err != nil {
				return
			}
		}
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "dial a server and echo one message",
		ArgsUsage: "<ws-url> <message>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 2 {
				return fmt.Errorf("usage: framewire-echo connect <ws-url> <message>")
			}
			url, message := args.Get(0), args.Get(1)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			client := &wshttp.Client{}

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			conn, err := client.Connect(dialCtx, url)
			if err != nil {
				return err
			}
			defer conn.Close()

			// RFC 6455 §5.3 requires every client-to-server frame to be
			// masked; wshttp.Client performs no masking of its own, so the
			// caller supplies a fresh mask per frame.
			var mask [4]byte
			if _, err := rand.Read(mask[:]); err != nil {
				return err
			}
			if err := conn.SendMasked(ctx, framewire.OpText, [3]bool{}, []byte(message), mask); err != nil {
				return err
			}

			frame, err := conn.NextFrame(ctx)
			if err != nil {
				return err
			}
			reply, err := frame.Payload.Collect(ctx)
			if err != nil {
				return err
			}

			logger.Info().Str("conn_id", conn.ID).Str("reply", string(reply)).Msg("received echo")
			fmt.Println(string(reply))
			return nil
		},
	}
}
