package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"movesync/client"
	"movesync/input"
	"movesync/logging"
	"movesync/server"
	"movesync/transport"
)

const defaultPort = 18321

type options struct {
	role        string
	addr        string
	logFile     string
	logLevel    string
	broadcastMs int
	drop        float64
	delayMinMs  int
	delayMaxMs  int
	inputRate   float64
	botSeed     int64
}

var opts options

var rootCmd = &cobra.Command{
	Use:           "movesync",
	Short:         "Authoritative movement sync server and headless client.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.role, "role", "r", "server", "process role: server or client")
	f.StringVar(&opts.addr, "addr", "", fmt.Sprintf("listen (server) or dial (client) address, default port %d", defaultPort))
	f.StringVar(&opts.logFile, "log-file", "", "rolling log file; stderr when empty")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.IntVar(&opts.broadcastMs, "broadcast-ms", 50, "server snapshot broadcast interval in milliseconds")
	f.Float64Var(&opts.drop, "drop", 0, "simulated send drop probability [0,1]")
	f.IntVar(&opts.delayMinMs, "delay-min-ms", 0, "simulated minimum send delay in milliseconds")
	f.IntVar(&opts.delayMaxMs, "delay-max-ms", 0, "simulated maximum send delay in milliseconds")
	f.Float64Var(&opts.inputRate, "input-rate", 120, "server inbound messages per second per connection (0 disables)")
	f.Int64Var(&opts.botSeed, "bot-seed", 0, "client bot random seed; 0 uses the clock")
}

// parseRole 只接受 server / client，其余值为致命的启动错误
func parseRole(role string) (string, error) {
	switch strings.ToLower(role) {
	case "server", "s":
		return "server", nil
	case "client", "c":
		return "client", nil
	default:
		return "", errors.Errorf("invalid role %q: use one of server (s), client (c)", role)
	}
}

func defaultAddr(role string) string {
	if role == "server" {
		return fmt.Sprintf(":%d", defaultPort)
	}
	return fmt.Sprintf("localhost:%d", defaultPort)
}

func newTransport(role string) (*transport.WebSocket, error) {
	wsOpts := []transport.WSOption{
		transport.WithImpairment(transport.Impairment{
			DropProb: opts.drop,
			DelayMin: time.Duration(opts.delayMinMs) * time.Millisecond,
			DelayMax: time.Duration(opts.delayMaxMs) * time.Millisecond,
		}),
	}
	if role == "server" && opts.inputRate > 0 {
		wsOpts = append(wsOpts, transport.WithRateLimit(rate.Limit(opts.inputRate), int(opts.inputRate)))
	}
	return transport.NewWebSocket(wsOpts...)
}

func run(cmd *cobra.Command, _ []string) error {
	role, err := parseRole(opts.role)
	if err != nil {
		return err
	}
	addr := opts.addr
	if addr == "" {
		addr = defaultAddr(role)
	}
	instance := uuid.New()
	if err := logging.InitLogger(logging.Options{
		FilePath: opts.logFile,
		Level:    opts.logLevel,
		Fields:   []any{"role", role, "instance", instance.String()},
	}); err != nil {
		return errors.Wrap(err, "init logger failed")
	}
	defer logging.SyncLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := newTransport(role)
	if err != nil {
		return errors.Wrap(err, "create transport failed")
	}
	defer tr.Close()

	if role == "server" {
		return runServer(ctx, tr, addr, instance)
	}
	return runClient(ctx, tr, addr)
}

func newServer(tr transport.Transport, instance uuid.UUID) (*server.Server, error) {
	return server.New(tr,
		server.WithInstance(instance),
		server.WithBroadcastInterval(time.Duration(opts.broadcastMs)*time.Millisecond),
	)
}

func runServer(ctx context.Context, tr *transport.WebSocket, addr string, instance uuid.UUID) error {
	srv, err := newServer(tr, instance)
	if err != nil {
		return errors.Wrap(err, "new server failed")
	}
	// 管理与监控接口与 /ws 共用监听端口
	srv.MountAdmin(tr)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	logging.Log.Infof("movesync server listening on %s (instance %s)", tr.Addr(), srv.Instance())
	err = srv.Run(ctx)
	logging.Log.Info("Shutting down...")
	return err
}

func runClient(ctx context.Context, tr *transport.WebSocket, addr string) error {
	seed := opts.botSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c, err := client.New(tr, input.NewBot(seed, client.TicksPerSecond))
	if err != nil {
		return errors.Wrap(err, "new client failed")
	}
	if err := c.Connect(addr); err != nil {
		return err
	}
	err = c.Run(ctx)
	logging.Log.Info("Shutting down...")
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logging.Log.Errorf("fatal: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
