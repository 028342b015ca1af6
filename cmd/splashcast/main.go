// Command splashcast streams a named sequence from a pre-encoded H.265
// elementary stream over RTP/UDP, looping the active sequence until the
// queue advances it at the next segment boundary.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/snapetech/splashcast/internal/cliinput"
	"github.com/snapetech/splashcast/internal/config"
	"github.com/snapetech/splashcast/internal/control"
	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/health"
	"github.com/snapetech/splashcast/internal/metrics"
	"github.com/snapetech/splashcast/internal/monitor"
	"github.com/snapetech/splashcast/internal/pipeline"
	"github.com/snapetech/splashcast/internal/queue"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires the configured components together and blocks until the
// process is asked to quit, returning the process exit code: 0 = normal
// quit, 1 = startup/runtime failure, 2 = argument misuse.
func run(args []string) int {
	cliMode, httpPort, configPath, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: splashcast [--cli] [--http-port=N] <config.ini>")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := health.CheckSource(cfg.Stream.Input); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	controlPort := cfg.Control.Port
	if httpPort != 0 {
		controlPort = httpPort
	}

	sink := events.Func(func(e events.Event) {
		if e.Type == events.Error {
			log.Printf("event: %s: %s", e.Type, e.Msg)
			return
		}
		log.Printf("event: %s a=%d b=%d", e.Type, e.A, e.B)
	})

	q := queue.New(cfg.Registry.Len(), sink)

	p := pipeline.New(sink)
	pcfg := pipeline.Config{
		InputPath:     cfg.Stream.Input,
		FPS:           cfg.Stream.FPS,
		Host:          cfg.Stream.Host,
		Port:          cfg.Stream.Port,
		SecondaryHost: cfg.Stream.SecondaryHost,
		SecondaryPort: cfg.Stream.SecondaryPort,
	}
	if err := p.ApplyConfig(pcfg, cfg.Registry, q); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer p.Close()

	var mon *monitor.Monitor
	if cfg.Monitor.Present && cfg.Monitor.Enabled {
		mon = monitor.New(monitor.Config{
			Port:            cfg.Monitor.Port,
			Interface:       cfg.Monitor.Interface,
			IdleTimeoutMS:   cfg.Monitor.IdleTimeoutMS,
			CheckIntervalMS: cfg.Monitor.CheckIntervalMS,
		}, p, sink)
		defer mon.Close()
	}

	policy := control.RepeatPolicyFinal
	if cfg.Control.ComboLoopMode == config.ComboLoopEntire {
		policy = control.RepeatPolicyEntire
	}
	ctl := control.New(fmt.Sprintf(":%d", controlPort), p, cfg.Registry, q, policy)
	if err := ctl.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer ctl.Stop()

	if cfg.Control.MetricsPort != 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Control.MetricsPort)
			if err := metrics.Serve(addr); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	if cliMode {
		if err := cliinput.Run(os.Stdin, cfg.Registry, q, p); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
	return 0
}

// parseArgs hand-parses the small, fixed flag set so "<config.ini>" can
// be a bare positional argument alongside --cli/--http-port, which the
// stdlib flag package does not allow to be interleaved freely.
func parseArgs(args []string) (cliMode bool, httpPort int, configPath string, err error) {
	var positional []string
	for _, a := range args {
		switch {
		case a == "--cli":
			cliMode = true
		case hasPrefix(a, "--http-port="):
			v := a[len("--http-port="):]
			n, perr := parsePortArg(v)
			if perr != nil {
				return false, 0, "", fmt.Errorf("splashcast: invalid --http-port: %w", perr)
			}
			httpPort = n
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) != 1 {
		return false, 0, "", fmt.Errorf("splashcast: expected exactly one <config.ini> argument, got %d", len(positional))
	}
	return cliMode, httpPort, positional[0], nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func parsePortArg(v string) (int, error) {
	n := 0
	if v == "" {
		return 0, fmt.Errorf("empty port")
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}
