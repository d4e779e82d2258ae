// Package heapdebug exposes the state of a vmheap.Manager over HTTP.
//
//	GET /heap           -> JSON snapshot (layout, counters, regions, events)
//	GET /heap/events    -> JSON array of recent grow/shrink events; ?n=<count>
//	GET /heap/regions   -> JSON array of executable regions
//	GET /metrics        -> text exposition of heap gauges and counters
//
// Handlers only read published snapshots, so they never race with the
// goroutine that owns the manager.
package heapdebug

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orizon-lang/vmheap/internal/runtime/netstack"
	"github.com/orizon-lang/vmheap/internal/runtime/vmheap"
)

// Source provides snapshots to the handlers.
type Source interface {
	Snapshot() vmheap.Snapshot
}

// Handler returns the mux serving the diagnostic endpoints for src.
func Handler(src Source) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Snapshot())
	})

	mux.HandleFunc("/heap/events", func(w http.ResponseWriter, r *http.Request) {
		events := src.Snapshot().Events
		if nStr := r.URL.Query().Get("n"); nStr != "" {
			n, err := strconv.Atoi(nStr)
			if err != nil || n < 0 {
				http.Error(w, "invalid n", http.StatusBadRequest)
				return
			}
			if n < len(events) {
				events = events[len(events)-n:]
			}
		}
		if events == nil {
			events = []vmheap.Event{}
		}
		writeJSON(w, events)
	})

	mux.HandleFunc("/heap/regions", func(w http.ResponseWriter, r *http.Request) {
		regions := src.Snapshot().Regions
		if regions == nil {
			regions = []vmheap.RegionSnapshot{}
		}
		writeJSON(w, regions)
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		WriteMetrics(w, "vmheap", src.Snapshot().Metrics())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// WriteMetrics writes one "<prefix>_<name> <value>" line per metric in a
// stable order.
func WriteMetrics(w io.Writer, prefix string, metrics map[string]float64) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(prefix+"_"+k), metrics[k])
	}
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return strings.ReplaceAll(string(b), "__", "_")
}

// StartDebugHTTP serves Handler(src) over TCP on addr. It returns the bound
// address and a shutdown function.
func StartDebugHTTP(src Source, addr string) (string, func(ctx context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: Handler(src), ReadHeaderTimeout: 3 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Addr().String(), srv.Shutdown, nil
}

// ListenDebugHTTP3 binds Handler(src) for HTTP/3 on addr; the caller runs
// it with Serve. A nil tlsCfg gets a self-signed loopback certificate.
func ListenDebugHTTP3(src Source, addr string, tlsCfg *tls.Config) (*netstack.Server, error) {
	if tlsCfg == nil {
		var err error
		tlsCfg, err = netstack.SelfSignedTLS(netstack.LoopbackHosts, 0)
		if err != nil {
			return nil, fmt.Errorf("self-signed certificate: %w", err)
		}
	}
	return netstack.Listen(addr, tlsCfg, Handler(src))
}
