// Command dispatchbench drives internal/outbound.Dispatcher directly
// against a real or loopback authoritative responder and reports RTT
// percentiles. Flags are parsed with cobra.
package main

import (
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/outbound"
)

var (
	server      string
	name        string
	qtype       int
	concurrency int
	requests    int
	timeout     time.Duration
	ports       int
	recvSize    int
)

var rootCmd = &cobra.Command{
	Use:   "dispatchbench",
	Short: "Benchmark the outbound dispatcher's RTT against an upstream resolver",
	Long: `dispatchbench submits queries through internal/outbound.Dispatcher,
the same socket pool and pending-query index used by the forwarding
resolver in production, and reports p50/p95/p99 round-trip latency.`,
	RunE: runBench,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&server, "server", "127.0.0.1:1053", "upstream DNS server HOST:PORT")
	flags.StringVar(&name, "name", "tweakers.nl", "query name")
	flags.IntVar(&qtype, "qtype", 1, "query type (numeric, A=1)")
	flags.IntVar(&concurrency, "concurrency", 200, "number of concurrent submitters")
	flags.IntVar(&requests, "requests", 20000, "total number of requests")
	flags.DurationVar(&timeout, "timeout", 2*time.Second, "per-request timeout")
	flags.IntVar(&ports, "ports", 32, "sockets to open per address family")
	flags.IntVar(&recvSize, "recv-size", 4096, "per-socket receive buffer size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return fmt.Errorf("resolving server address: %w", err)
	}

	reqBytes, err := buildQuery(name, uint16(qtype))
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	cfg := outbound.Config{
		PortsPerFamily:    ports,
		IPv4Enabled:       addr.IP.To4() != nil,
		IPv6Enabled:       addr.IP.To4() == nil,
		BasePort:          -1,
		ReceiveBufferSize: recvSize,
	}
	d, err := outbound.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("constructing dispatcher: %w", err)
	}
	defer d.Close()

	conc := concurrency
	if conc < 1 {
		conc = 1
	}
	total := requests
	if total < 1 {
		total = 1
	}
	per := total / conc
	rem := total % conc

	lat := make([]float64, 0, total)
	var latMu sync.Mutex
	var failures int64

	t0 := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < conc; i++ {
		n := per
		if i < rem {
			n++
		}
		if n <= 0 {
			continue
		}
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			for j := 0; j < num; j++ {
				start := time.Now()
				done := make(chan outbound.Status, 1)
				d.Submit(reqBytes, addr, timeout, func(status outbound.Status, reply *outbound.ReplyInfo) {
					if status == outbound.StatusOK {
						_, _ = dns.ParsePacket(reply.Data)
					}
					done <- status
				})
				status := <-done
				if status != outbound.StatusOK {
					atomic.AddInt64(&failures, 1)
					continue
				}
				ms := float64(time.Since(start).Microseconds()) / 1000.0
				latMu.Lock()
				lat = append(lat, ms)
				latMu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	if len(lat) == 0 {
		fmt.Println("no successful requests")
		return nil
	}
	sort.Float64s(lat)
	p50 := percentile(lat, 50)
	p95 := percentile(lat, 95)
	p99 := percentile(lat, 99)
	qps := float64(len(lat)) / elapsed

	fmt.Printf("server=%s name=%q qtype=%d concurrency=%d requests=%d failures=%d\n",
		server, name, qtype, conc, len(lat), atomic.LoadInt64(&failures))
	fmt.Printf("elapsed_s=%.3f qps=%.1f\n", elapsed, qps)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n", p50, p95, p99, lat[0], lat[len(lat)-1])
	return nil
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func buildQuery(name string, qtype uint16) ([]byte, error) {
	p := dns.Packet{
		Header:    dns.Header{ID: 0xBEEF, Flags: uint16(dns.RDFlag)},
		Questions: []dns.Question{{Name: name, Type: qtype, Class: uint16(dns.ClassIN)}},
	}
	return p.Marshal()
}
