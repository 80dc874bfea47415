package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	fileatomic "github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/hkvtable/config"
	"github.com/IvanBrykalov/hkvtable/hkv"
	"github.com/IvanBrykalov/hkvtable/keys"
	pmet "github.com/IvanBrykalov/hkvtable/metrics/prom"
	vmet "github.com/IvanBrykalov/hkvtable/metrics/vm"
)

type benchFlags struct {
	workers  int
	duration time.Duration
	readPct  int
	delPct   int
	keys     int
	zipfS    float64
	zipfV    float64
	seed     int64
	preload  int

	pprofAddr   string
	metricsAddr string
	metrics     string
	report      string
}

var (
	bf benchFlags

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic get/create/delete workload",
		Long: `Run a synthetic workload against a table: Zipf-distributed keys, a
read/create/delete mix and a fixed number of workers. Metrics are served
on --http in Prometheus text format, pprof on --pprof.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), tableCfg, bf)
		},
	}
)

func init() {
	f := benchCmd.Flags()
	f.IntVar(&bf.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.DurationVar(&bf.duration, "duration", 10*time.Second, "benchmark duration")
	f.IntVar(&bf.readPct, "reads", 80, "read percentage [0..100]")
	f.IntVar(&bf.delPct, "deletes", 5, "delete percentage [0..100], taken from the non-read share")
	f.IntVar(&bf.keys, "keys", 1_000_000, "keyspace size")
	f.Float64Var(&bf.zipfS, "zipf_s", 1.1, "Zipf s > 1 (skew)")
	f.Float64Var(&bf.zipfV, "zipf_v", 1.0, "Zipf v")
	f.Int64Var(&bf.seed, "seed", time.Now().UnixNano(), "random seed")
	f.IntVar(&bf.preload, "preload", 0, "preload entries (0 = limit/2)")
	f.StringVar(&bf.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	f.StringVar(&bf.metricsAddr, "http", ":8080", "serve metrics at addr; empty = disabled")
	f.StringVar(&bf.metrics, "metrics", "prom", "metrics backend: prom | vm")
	f.StringVar(&bf.report, "report", "", "write a JSON report to this file")
}

// report is the JSON summary of one run.
type report struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Table    config.Config `json:"table"`
	Workers  int           `json:"workers"`
	Keys     int           `json:"keys"`
	Seed     int64         `json:"seed"`
	Ops      uint64        `json:"ops"`
	OpsPerS  float64       `json:"ops_per_sec"`
	Reads    uint64        `json:"reads"`
	Writes   uint64        `json:"writes"`
	Deletes  uint64        `json:"deletes"`
	Hits     uint64        `json:"hits"`
	Misses   uint64        `json:"misses"`
	Errors   uint64        `json:"errors"`
	HitRate  float64       `json:"hit_rate_pct"`
	Snapshot hkv.Stats     `json:"stats"`
}

func runBench(ctx context.Context, cfg config.Config, bf benchFlags) error {
	switch cfg.KeyType {
	case keys.String:
		return bench(ctx, cfg, bf, func(n uint64) string { return "k:" + strconv.FormatUint(n, 10) })
	case keys.Int32:
		return bench(ctx, cfg, bf, func(n uint64) int32 { return int32(n) })
	case keys.Int64:
		return bench(ctx, cfg, bf, func(n uint64) int64 { return int64(n) })
	case keys.Uint64:
		return bench(ctx, cfg, bf, func(n uint64) uint64 { return n })
	case keys.Bytes12:
		return bench(ctx, cfg, bf, func(n uint64) (k [12]byte) {
			binary.BigEndian.PutUint64(k[4:], n)
			return k
		})
	case keys.Bytes64:
		return bench(ctx, cfg, bf, func(n uint64) (k [64]byte) {
			binary.BigEndian.PutUint64(k[56:], n)
			return k
		})
	case keys.Bytes68:
		return bench(ctx, cfg, bf, func(n uint64) (k [68]byte) {
			binary.BigEndian.PutUint64(k[60:], n)
			return k
		})
	default:
		return fmt.Errorf("%w: %q", keys.ErrUnsupportedKeyType, cfg.KeyType)
	}
}

func bench[K comparable](ctx context.Context, cfg config.Config, bf benchFlags, keyOf func(uint64) K) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	log := logger.With().Str("run", runID.String()).Logger()

	// ---- pprof server (on DefaultServeMux) ----
	if bf.pprofAddr != "" {
		go func() {
			log.Info().Str("addr", bf.pprofAddr).Msg("pprof: serving")
			log.Err(http.ListenAndServe(bf.pprofAddr, nil)).Msg("pprof server stopped")
		}()
	}

	// ---- metrics ----
	opt, err := config.Options[K](cfg)
	if err != nil {
		return err
	}
	opt.Logger = &log
	switch bf.metrics {
	case "prom":
		opt.Metrics = pmet.New(nil, "hkv", "bench", prometheus.Labels{"table": cfg.Name})
		http.Handle("/metrics", promhttp.Handler())
	case "vm":
		m := vmet.New(nil, "hkv_bench", cfg.Name)
		opt.Metrics = m
		http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			m.WritePrometheus(w)
		})
	default:
		return fmt.Errorf("unknown metrics backend %q (use prom or vm)", bf.metrics)
	}
	if bf.metricsAddr != "" {
		go func() {
			log.Info().Str("addr", bf.metricsAddr).Str("backend", bf.metrics).Msg("metrics: serving")
			log.Err(http.ListenAndServe(bf.metricsAddr, nil)).Msg("metrics server stopped")
		}()
	}

	// ---- Build table ----
	tb, err := hkv.Create(hkv.DefaultDriver, opt)
	if err != nil {
		return err
	}
	defer func() { _ = tb.Close() }()

	// ---- Preload to get a realistic hit-rate ----
	pl := bf.preload
	if pl == 0 {
		pl = int(cfg.ObjectsLimit) / 2
	}
	for i := 0; i < pl; i++ {
		ref, _, err := tb.GetOrCreateWithReadAcquire(keyOf(uint64(i)))
		if err != nil {
			return fmt.Errorf("preload: %w", err)
		}
		ref.Release()
	}

	// ---- Snapshot flags for goroutines ----
	workersN := bf.workers
	if workersN <= 0 {
		workersN = 1
	}
	keysMax := uint64(1)
	if bf.keys > 1 {
		keysMax = uint64(bf.keys - 1)
	}

	// ---- Load generation ----
	var reads, writes, deletes, hits, misses, errs, total uint64
	ctx, cancel := context.WithTimeout(ctx, bf.duration)
	defer cancel()

	started := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(bf.seed + int64(id)*9973))
			localZipf := rand.NewZipf(localR, bf.zipfS, bf.zipfV, keysMax)

			for ctx.Err() == nil {
				atomic.AddUint64(&total, 1)
				k := keyOf(localZipf.Uint64())
				roll := int(localR.Int31n(100))

				switch {
				case roll < bf.readPct:
					atomic.AddUint64(&reads, 1)
					if ref, ok := tb.TryGetWithReadAcquire(k); ok {
						atomic.AddUint64(&hits, 1)
						ref.Release()
					} else {
						atomic.AddUint64(&misses, 1)
					}
				case roll < bf.readPct+bf.delPct:
					atomic.AddUint64(&deletes, 1)
					tb.Delete(k)
				default:
					atomic.AddUint64(&writes, 1)
					ref, existed, err := tb.GetOrCreateWithReadAcquire(k)
					if err != nil {
						atomic.AddUint64(&errs, 1)
						continue
					}
					if p := ref.Payload(); !existed && len(p) >= 8 {
						binary.LittleEndian.PutUint64(p, localR.Uint64())
					}
					ref.Release()
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(started)

	// ---- Report ----
	rep := report{
		RunID:    runID.String(),
		Started:  started,
		Elapsed:  elapsed,
		Table:    cfg,
		Workers:  workersN,
		Keys:     bf.keys,
		Seed:     bf.seed,
		Ops:      atomic.LoadUint64(&total),
		Reads:    atomic.LoadUint64(&reads),
		Writes:   atomic.LoadUint64(&writes),
		Deletes:  atomic.LoadUint64(&deletes),
		Hits:     atomic.LoadUint64(&hits),
		Misses:   atomic.LoadUint64(&misses),
		Errors:   atomic.LoadUint64(&errs),
		Snapshot: tb.Stats(),
	}
	rep.OpsPerS = float64(rep.Ops) / elapsed.Seconds()
	if rep.Reads > 0 {
		rep.HitRate = float64(rep.Hits) / float64(rep.Reads) * 100
	}

	fmt.Printf("run=%s policy=%s limit=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		rep.RunID, rep.Snapshot.Policy, cfg.ObjectsLimit, rep.Snapshot.Shards, workersN, bf.keys, elapsed, bf.seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  deletes=%d  errors=%d\n",
		rep.Ops, rep.OpsPerS, rep.Reads, rep.Writes, rep.Deletes, rep.Errors)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", rep.Hits, rep.Misses, rep.HitRate)
	fmt.Printf("entries=%d  slots=%d  evictions=%d\n", rep.Snapshot.Entries, rep.Snapshot.Slots, rep.Snapshot.Evictions)

	if bf.report != "" {
		return writeReport(bf.report, rep)
	}
	return nil
}

// writeReport replaces path atomically so a reader never sees half a report.
func writeReport(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := fileatomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
