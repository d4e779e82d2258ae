package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/vmheap/internal/cli"
	"github.com/orizon-lang/vmheap/internal/runtime/heapdebug"
	"github.com/orizon-lang/vmheap/internal/runtime/netstack"
	"github.com/orizon-lang/vmheap/internal/runtime/vmheap"
)

const defaultDebugAddr = "127.0.0.1:6060"

type sizeOverrides struct {
	min, desired, max string
}

func main() {
	var (
		showVersion bool
		showHelp    bool
		jsonOutput  bool
		configFile  string
		verbose     bool
		debug       bool
		simulate    bool
		probe       bool
		serve       bool
		trace       bool
		tlsCert     string
		tlsKey      string
		sizes       sizeOverrides
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flag.StringVar(&configFile, "config", "vmheap.json", "configuration file path")
	flag.StringVar(&sizes.min, "min", "", "initial committed heap size, e.g. 16MiB (overrides min_heap_bytes)")
	flag.StringVar(&sizes.desired, "desired", "", "smallest acceptable reservation (overrides desired_heap_bytes)")
	flag.StringVar(&sizes.max, "max", "", "first reservation size attempted (overrides max_virtual_memory)")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose output")
	flag.BoolVar(&debug, "debug", false, "enable debug output")
	flag.BoolVar(&trace, "trace", false, "print every grow/shrink request (overrides show_allocations)")
	flag.BoolVar(&simulate, "simulate", false, "use a simulated address space instead of the host's")
	flag.BoolVar(&probe, "probe", false, "exercise grow, shrink and code regions after reserving")
	flag.BoolVar(&serve, "serve", false, "serve diagnostics until interrupted")
	flag.StringVar(&tlsCert, "tls-cert", "", "TLS certificate for the HTTP/3 endpoint (self-signed if empty)")
	flag.StringVar(&tlsKey, "tls-key", "", "TLS key for the HTTP/3 endpoint")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reserve the runtime heap and report its layout.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                                # Reserve with vmheap.json or defaults\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --max 2GiB --min 32MiB --json  # Override sizes, print snapshot\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --simulate --probe --trace     # Dry run against a simulated OS\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --serve --verbose              # Serve /heap and /metrics\n", os.Args[0])
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		cli.PrintVersion(os.Stdout, "Orizon VM Heap", jsonOutput)
		os.Exit(0)
	}

	logger := cli.NewLogger(verbose, debug)

	cfg, err := vmheap.LoadConfig(configFile)
	if err != nil {
		cli.ExitWithError("Failed to load config: %v", err)
	}
	if err := applyOverrides(&cfg, sizes); err != nil {
		cli.ExitWithError("%v", err)
	}
	if trace {
		cfg.ShowAllocations = true
	}
	if err := cfg.Validate(); err != nil {
		cli.ExitWithError("Invalid configuration: %v", err)
	}
	minHeap, desired, err := heapSizes(cfg)
	if err != nil {
		cli.ExitWithError("%v", err)
	}

	opts := []vmheap.Option{vmheap.WithConfig(cfg), vmheap.WithLogger(logger)}
	if simulate {
		opts = append(opts, vmheap.WithPlatform(newSimulatedHost()))
	}
	m := vmheap.NewManager(opts...)

	if _, err := m.Reserve(minHeap, desired); err != nil {
		cli.ExitWithError("Failed to reserve heap: %v", err)
	}

	if probe {
		runProbe(m, logger)
	}

	if err := printLayout(os.Stdout, m, jsonOutput); err != nil {
		cli.ExitWithError("Failed to print layout: %v", err)
	}

	if serve {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runServers(ctx, m, cfg, configFile, tlsCert, tlsKey, logger); err != nil {
			cli.ExitWithError("%v", err)
		}
	}
}

func applyOverrides(cfg *vmheap.Config, o sizeOverrides) error {
	for _, f := range []struct {
		name string
		val  string
		dst  *uint64
	}{
		{"min", o.min, &cfg.MinHeapBytes},
		{"desired", o.desired, &cfg.DesiredHeapBytes},
		{"max", o.max, &cfg.MaxVirtualMemory},
	} {
		if f.val == "" {
			continue
		}
		n, err := cli.ParseSize(f.val)
		if err != nil {
			return fmt.Errorf("-%s: %w", f.name, err)
		}
		*f.dst = n
	}
	return nil
}

func heapSizes(cfg vmheap.Config) (minHeap, desired uintptr, err error) {
	if cfg.MinHeapBytes > math.MaxUint || cfg.DesiredHeapBytes > math.MaxUint {
		return 0, 0, fmt.Errorf("heap sizes exceed the address space of this platform")
	}
	return uintptr(cfg.MinHeapBytes), uintptr(cfg.DesiredHeapBytes), nil
}

func newSimulatedHost() *vmheap.SimulatedPlatform {
	p := vmheap.NewSimulatedPlatform(4096)
	p.Status = vmheap.MemoryStatus{AvailPhys: 2 << 30, AvailSwap: 1 << 30}
	return p
}

// runProbe drives the heap through a short resize sequence and emits and
// seals one code region.
func runProbe(m *vmheap.Manager, log *cli.Logger) {
	h := m.Heap()
	limit := h.Limit()
	limit = m.GrowMemoryBy(limit, 1)
	limit = m.GrowMemoryBy(limit, 10000)
	limit = m.ShrinkMemoryBy(limit, 4096)
	log.Info("probe: heap limit %#x, committed %s", limit, cli.FormatSize(uint64(h.Committed())))

	base, size := m.AllocateExecutableRegion(10000)
	if size == 0 {
		return
	}
	m.MakeExecutable(base, base+size/2)
	log.Info("probe: code region %#x (+%d)", base, size)
}

func printLayout(w io.Writer, m *vmheap.Manager, jsonOutput bool) error {
	snap := m.Snapshot()
	if jsonOutput {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "Page size:        %d\n", snap.PageSize)
	fmt.Fprintf(w, "Heap base:        %#x\n", snap.Base)
	fmt.Fprintf(w, "Heap limit:       %#x\n", snap.Limit)
	fmt.Fprintf(w, "Committed:        %s\n", cli.FormatSize(uint64(snap.Committed)))
	fmt.Fprintf(w, "Reserved:         %s (desired %s, %d attempt(s))\n",
		cli.FormatSize(uint64(snap.MaxReserved)), cli.FormatSize(uint64(snap.DesiredReserve)), snap.Attempts)
	fmt.Fprintf(w, "Headroom:         %s\n", cli.FormatSize(uint64(snap.Headroom)))
	fmt.Fprintf(w, "Extra bytes left: %s (with swap %s)\n",
		cli.FormatSize(uint64(m.ExtraBytesLeft(false))), cli.FormatSize(uint64(m.ExtraBytesLeft(true))))
	fmt.Fprintf(w, "Shrinking:        %s\n", onOff(snap.AllowShrink))
	for _, r := range snap.Regions {
		fmt.Fprintf(w, "Code region:      %#x (+%d)\n", r.Base, r.Size)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// runServers serves the diagnostics endpoints and watches the config file
// until ctx is cancelled.
func runServers(ctx context.Context, m *vmheap.Manager, cfg vmheap.Config, configFile, tlsCert, tlsKey string, log *cli.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	// Nothing serves until the HTTP/3 listener and its TLS config are ready.
	var h3 *netstack.Server
	if cfg.HTTP3Addr != "" {
		var tlsCfg *tls.Config
		if tlsCert != "" {
			c, err := netstack.LoadTLSConfig(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("tls: %w", err)
			}
			tlsCfg = c
		}
		s, err := heapdebug.ListenDebugHTTP3(m, cfg.HTTP3Addr, tlsCfg)
		if err != nil {
			return fmt.Errorf("http3 server: %w", err)
		}
		h3 = s
	}

	addr := cfg.DebugAddr
	if addr == "" {
		addr = defaultDebugAddr
	}
	bound, shutdown, err := heapdebug.StartDebugHTTP(m, addr)
	if err != nil {
		if h3 != nil {
			_ = h3.Close()
		}
		return fmt.Errorf("debug server: %w", err)
	}
	log.Info("serving heap diagnostics on http://%s", bound)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	if h3 != nil {
		log.Info("serving heap diagnostics over HTTP/3 on %s", h3.Addr())
		g.Go(func() error { return h3.Serve(gctx) })
	}

	if _, err := os.Stat(configFile); err == nil {
		cw, err := vmheap.NewConfigWatcher(configFile, m.ApplyPolicy, log)
		if err != nil {
			log.Warn("config watcher disabled: %v", err)
		} else {
			g.Go(func() error {
				defer cw.Close()
				return cw.Run(gctx)
			})
		}
	}

	return g.Wait()
}
