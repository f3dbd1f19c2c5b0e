package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCell/cmd/util"
	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/client"
	"github.com/c2h5oh/datasize"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for archive clusters",
		Long:    "Runs the store, retrieve, metadata and query benchmarks with one session per thread and reports throughput and latency percentiles.",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchMarker     = "__bench"
	benchObjectSize = 4 * datasize.KB
	benchLargeSize  = 1 * datasize.MB
	benchNumThreads = 4
	benchObjects    = 100
	benchSkip       = make([]string, 0)

	// latency timers per benchmark
	benchRegistry = metrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. store,query)"))
	key = "threads"
	benchCmd.Flags().Int(key, 4, util.WrapString("Number of sessions to run the benchmark with"))
	key = "object-size"
	benchCmd.Flags().String(key, "4KB", util.WrapString("Size of the objects of the store benchmark"))
	key = "large-object-size"
	benchCmd.Flags().String(key, "1MB", util.WrapString("Size of the objects of the store-large benchmark"))
	key = "objects"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many objects the read benchmarks work on"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	if err := benchObjectSize.UnmarshalText([]byte(viper.GetString("object-size"))); err != nil {
		return fmt.Errorf("invalid object size: %w", err)
	}
	if err := benchLargeSize.UnmarshalText([]byte(viper.GetString("large-object-size"))); err != nil {
		return fmt.Errorf("invalid large object size: %w", err)
	}
	benchObjects = max(viper.GetInt("objects"), 1)
	benchNumThreads = max(viper.GetInt("threads"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// sessionPool hands one session to every benchmark goroutine
type sessionPool chan *client.Session

func newSessionPool(n int) (sessionPool, error) {
	pool := make(sessionPool, n)
	pool <- session
	for i := 1; i < n; i++ {
		s, err := util.NewSession()
		if err != nil {
			pool.close()
			return nil, err
		}
		pool <- s
	}
	return pool, nil
}

func (p sessionPool) close() {
	for {
		select {
		case s := <-p:
			if s != session {
				_ = s.Close()
			}
		default:
			return
		}
	}
}

// benchmark runs fn in parallel, every call gets its own session and its
// latency is recorded under name
func benchmark(pool sessionPool, name string, fn func(ctx context.Context, s *client.Session, i int) error) testing.BenchmarkResult {
	if shouldSkip(name) {
		return testing.BenchmarkResult{}
	}
	timer := metrics.GetOrRegisterTimer(name, benchRegistry)

	return testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			s := <-pool
			defer func() { pool <- s }()

			ctx := context.Background()
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := fn(ctx, s, counter); err != nil {
					log.Printf("(%s) - error: %v\n", name, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})
}

func runBench(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for archive clusters")

	host, port, config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Entry cell: %s:%d\n", host, port)
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, object size: %s, large object size: %s\n", benchNumThreads, benchObjectSize.HR(), benchLargeSize.HR())
	fmt.Println()

	pool, err := newSessionPool(benchNumThreads)
	if err != nil {
		return err
	}
	defer pool.close()

	ctx := context.Background()
	fmt.Println("preparing objects...")
	oids, err := prepareObjects(ctx, session, benchObjects)
	defer cleanup(ctx, session, oids)
	if err != nil {
		return err
	}

	fmt.Println("starting tests...")
	results := make(map[string]testing.BenchmarkResult)

	small := make([]byte, benchObjectSize.Bytes())
	results["store"] = benchmark(pool, "store", func(ctx context.Context, s *client.Session, _ int) error {
		sys, err := s.StoreData(ctx, archive.AnyCell, bytes.NewReader(small))
		if err != nil {
			return err
		}
		return s.Delete(ctx, sys.ObjectID)
	})
	printResult("store", results["store"])

	large := make([]byte, benchLargeSize.Bytes())
	results["store-large"] = benchmark(pool, "store-large", func(ctx context.Context, s *client.Session, _ int) error {
		sys, err := s.StoreData(ctx, archive.AnyCell, bytes.NewReader(large))
		if err != nil {
			return err
		}
		return s.Delete(ctx, sys.ObjectID)
	})
	printResult("store-large", results["store-large"])

	results["retrieve"] = benchmark(pool, "retrieve", func(ctx context.Context, s *client.Session, i int) error {
		return s.RetrieveObject(ctx, oids[i%len(oids)], io.Discard)
	})
	printResult("retrieve", results["retrieve"])

	results["meta"] = benchmark(pool, "meta", func(ctx context.Context, s *client.Session, i int) error {
		_, _, err := s.RetrieveMetadata(ctx, oids[i%len(oids)])
		return err
	})
	printResult("meta", results["meta"])

	results["query"] = benchmark(pool, "query", func(ctx context.Context, s *client.Session, i int) error {
		rs, err := s.Query(ctx, archive.Statement{Where: "name = ?", Params: []archive.Value{archive.StringValue(benchMarker)}}, 0)
		if err != nil {
			return err
		}
		defer rs.Close()
		for {
			_, ok, err := rs.Next(ctx)
			if err != nil || !ok {
				return err
			}
		}
	})
	printResult("query", results["query"])

	fmt.Println()
	printLatencies()

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, host, port); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// prepareObjects stores n small objects tagged with the bench marker
func prepareObjects(ctx context.Context, s *client.Session, n int) ([]archive.ObjectID, error) {
	md, err := s.NewRecord(ctx)
	if err != nil {
		return nil, err
	}
	if err := md.Set("name", archive.StringValue(benchMarker)); err != nil {
		// clusters without a name attribute still get untagged objects
		md = nil
	}

	data := make([]byte, benchObjectSize.Bytes())
	oids := make([]archive.ObjectID, 0, n)
	for i := 0; i < n; i++ {
		sys, err := s.StoreObject(ctx, archive.AnyCell, bytes.NewReader(data), md)
		if err != nil {
			return oids, err
		}
		oids = append(oids, sys.ObjectID)
	}
	return oids, nil
}

func cleanup(ctx context.Context, s *client.Session, oids []archive.ObjectID) {
	for _, oid := range oids {
		if err := s.Delete(ctx, oid); err != nil {
			log.Printf("(cleanup) - error deleting %s: %v\n", oid, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printLatencies prints the per call latency percentiles of every benchmark
func printLatencies() {
	fmt.Printf("%-20s%10s%12s%12s%12s%12s\n", "latency", "calls", "mean", "p50", "p95", "p99")
	benchRegistry.Each(func(name string, i interface{}) {
		timer, ok := i.(metrics.Timer)
		if !ok || timer.Count() == 0 {
			return
		}
		ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
		fmt.Printf("%-20s%10d%12s%12s%12s%12s\n", name, timer.Count(),
			time.Duration(timer.Mean()).Round(time.Microsecond),
			time.Duration(ps[0]).Round(time.Microsecond),
			time.Duration(ps[1]).Round(time.Microsecond),
			time.Duration(ps[2]).Round(time.Microsecond))
	})
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, host string, port int) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"P50Ns", "P99Ns", "Entry", "Threads", "ObjectSize", "LargeObjectSize", "Objects",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		ps := []float64{0, 0}
		if timer, ok := benchRegistry.Get(test).(metrics.Timer); ok && timer.Count() > 0 {
			ps = timer.Percentiles([]float64{0.5, 0.99})
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%s:%d", host, port),
			strconv.Itoa(benchNumThreads),
			benchObjectSize.String(),
			benchLargeSize.String(),
			strconv.Itoa(benchObjects),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
