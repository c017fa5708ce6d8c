// Command etherlink serves a streaming debug IP to TCP debugger clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-etherlink"
	"github.com/ehrlich-b/go-etherlink/internal/config"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
)

// version is overridden at link time.
var version = "dev"

// errExit ends the program without an error message, e.g. after --help.
var errExit = errors.New("exit")

type options struct {
	configPath string
	uioPath    string
	start      config.Number
	memSize    config.Number
	port       int
	mgmtPort   int
	ip         string
	simulate   bool
	loopback   bool
	logLevel   string
	logFormat  string
	version    bool
	help       bool
}

// parseArgs builds the configuration from defaults, an optional YAML file
// and the command line, in increasing precedence.
func parseArgs(args []string, stdout io.Writer) (*config.Config, error) {
	var o options
	fs := flag.NewFlagSet("etherlink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&o.uioPath, "uio-driver-path", "u", etherlink.DefaultUIOPath, "UIO device of the streaming debug IP")
	o.start = etherlink.DefaultStartAddress
	fs.VarP(&o.start, "start-address", "s", "offset of the IP's CSR block in the UIO mapping")
	o.memSize = etherlink.DefaultH2TT2HMemSize
	fs.VarP(&o.memSize, "h2t-t2h-mem-size", "m", "H2T/T2H region size for IPs that do not report one")
	fs.IntVarP(&o.port, "port", "p", etherlink.DefaultPort, "data port (0 picks a free port)")
	fs.IntVar(&o.mgmtPort, "mgmt-port", etherlink.DefaultMgmtPort, "management port (negative disables)")
	fs.StringVarP(&o.ip, "ip", "i", etherlink.DefaultListenIP, "listen address")
	fs.BoolVar(&o.simulate, "simulate", false, "serve a simulated IP instead of a UIO device")
	fs.BoolVar(&o.loopback, "loopback", false, "enable hardware loopback")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "text", "text or json")
	fs.BoolVarP(&o.version, "version", "v", false, "print the version and exit")
	fs.BoolVarP(&o.help, "help", "h", false, "print this help and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.help {
		fmt.Fprintf(stdout, "Usage: etherlink [flags]\n\n%s", fs.FlagUsages())
		return nil, errExit
	}
	if o.version {
		fmt.Fprintf(stdout, "etherlink %s\n", version)
		return nil, errExit
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	conf := config.Default()
	if o.configPath != "" {
		var err error
		if conf, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	overrides := map[string]func(){
		"uio-driver-path":  func() { conf.Device.UIOPath = o.uioPath },
		"start-address":    func() { conf.Device.StartAddress = o.start },
		"h2t-t2h-mem-size": func() { conf.Device.H2TT2HMemSize = o.memSize },
		"port":             func() { conf.Server.Port = o.port },
		"mgmt-port":        func() { conf.Server.MgmtPort = o.mgmtPort },
		"ip":               func() { conf.Server.IP = o.ip },
		"simulate":         func() { conf.Device.Simulate = o.simulate },
		"loopback":         func() { conf.Server.Loopback = o.loopback },
		"log-level":        func() { conf.Log.Level = o.logLevel },
		"log-format":       func() { conf.Log.Format = o.logFormat },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func openRegisters(conf *config.Config) (etherlink.RegisterCloser, error) {
	if conf.Device.Simulate {
		sim := etherlink.DefaultSimulatorConfig()
		sim.H2TT2HSize = uint32(conf.Device.H2TT2HMemSize)
		logging.Warn("serving a simulated IP, no hardware is attached", "h2t_t2h", humanize.IBytes(uint64(sim.H2TT2HSize)))
		dev, err := etherlink.NewSimulator(sim)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return etherlink.OpenUIO(conf.Device.UIOPath, uint32(conf.Device.StartAddress), int(conf.Device.MapSize))
}

func run(ctx context.Context, conf *config.Config, stdout io.Writer) error {
	logger := logging.NewLogger(conf.Logging())
	logging.SetDefault(logger)
	defer logger.Close()
	logging.Debug("effective configuration", "config", conf.String())

	regs, err := openRegisters(conf)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", conf.Device.UIOPath, err)
	}

	params := etherlink.DefaultParams(regs)
	params.FallbackSize = uint32(conf.Device.H2TT2HMemSize)
	params.ListenIP = conf.Server.IP
	params.Port = conf.Server.Port
	params.MgmtPort = conf.Server.MgmtPort
	params.Loopback = conf.Server.Loopback
	params.PollMin = conf.Poll.Min
	params.PollMax = conf.Poll.Max

	srv, err := etherlink.Listen(ctx, params, nil)
	if err != nil {
		regs.Close()
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logging.Error("error closing server", "error", err)
		}
	}()

	fmt.Fprintf(stdout, "Listening on %s\n", srv.Addr())
	if addr := srv.MgmtAddr(); addr != "" {
		fmt.Fprintf(stdout, "Management on %s\n", addr)
	}
	fmt.Fprintf(stdout, "Send SIGUSR1 (kill -USR1 %d) to print transfer statistics\n", os.Getpid())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		defer signal.Stop(usr1)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-usr1:
				fmt.Fprint(stdout, srv.MetricsSnapshot().Summary())
			}
		}
	})

	err = g.Wait()
	logging.Info("server stopped", "sessions", srv.MetricsSnapshot().Sessions)
	return err
}

func main() {
	conf, err := parseArgs(os.Args[1:], os.Stdout)
	if errors.Is(err, errExit) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "etherlink: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "etherlink: %v\n", err)
		stop()
		os.Exit(1)
	}
}
