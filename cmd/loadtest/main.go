// Command loadtest drives concurrent chunk-serve requests against a running
// depot and checks the resulting latency distribution against a saved
// baseline, the way the S3 gateway's load runner checks range/multipart
// throughput against testdata/baselines.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/perf/benchstat"
)

func main() {
	var (
		depotURL    = flag.String("depot-url", "http://localhost:8080", "Depot content server URL")
		gameID      = flag.String("game-id", "", "game_id path segment to request")
		versionName = flag.String("version-name", "", "version_name path segment to request")
		chunkID     = flag.String("chunk-id", "", "chunk_id path segment to request")
		token       = flag.String("token", "", "bearer token for the depot's /token endpoint")
		duration    = flag.Duration("duration", 30*time.Second, "test duration")
		workers     = flag.Int("workers", 5, "number of worker goroutines")
		baselineDir = flag.String("baseline-dir", "testdata/baselines", "directory holding baseline benchmark data")
		threshold   = flag.Float64("threshold", 10.0, "regression threshold percentage: a significant slowdown above it fails the run with exit status 1")
		update      = flag.Bool("update-baseline", false, "write this run's samples as the new baseline instead of comparing")
	)
	flag.Parse()

	if *gameID == "" || *versionName == "" || *chunkID == "" {
		log.Fatal("--game-id, --version-name and --chunk-id are required")
	}

	if err := os.MkdirAll(*baselineDir, 0o755); err != nil {
		log.Fatalf("creating baseline directory: %v", err)
	}

	if *token != "" {
		if err := setToken(*depotURL, *token); err != nil {
			log.Fatalf("setting token: %v", err)
		}
	}

	url := fmt.Sprintf("%s/api/v1/depot/content/%s/%s/%s", *depotURL, *gameID, *versionName, *chunkID)
	fmt.Printf("=== Depot Load Test ===\nTarget: %s\nWorkers: %d\nDuration: %v\n\n", url, *workers, *duration)

	samples := run(url, *workers, *duration)
	if len(samples) == 0 {
		log.Fatal("no successful requests completed; nothing to report")
	}

	data := toBenchmarkFormat("ChunkServe", samples)
	baselinePath := *baselineDir + "/chunk_serve.txt"

	if *update {
		if err := os.WriteFile(baselinePath, data, 0o644); err != nil {
			log.Fatalf("writing baseline: %v", err)
		}
		fmt.Println("baseline updated")
		return
	}

	baseline, err := os.ReadFile(baselinePath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no baseline found - run with --update-baseline to create one")
			return
		}
		log.Fatalf("reading baseline: %v", err)
	}

	report, regressed := compare(baseline, data, *threshold)
	fmt.Println(report)
	if regressed {
		os.Exit(1)
	}
	fmt.Println("no significant regression")
}

// run fires GET requests against url from numWorkers goroutines for the
// given duration and returns each successful request's wall-clock latency.
func run(url string, numWorkers int, duration time.Duration) []time.Duration {
	deadline := time.Now().Add(duration)
	var mu sync.Mutex
	var samples []time.Duration
	var failures int64

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}
			for time.Now().Before(deadline) {
				start := time.Now()
				resp, err := client.Get(url)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&failures, 1)
					continue
				}
				elapsed := time.Since(start)
				mu.Lock()
				samples = append(samples, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failures > 0 {
		fmt.Printf("%d requests failed\n", failures)
	}
	return samples
}

// toBenchmarkFormat renders samples as repeated `go test -bench` lines so
// benchstat can parse them as one benchmark's distribution.
func toBenchmarkFormat(name string, samples []time.Duration) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		fmt.Fprintf(&buf, "Benchmark%s 1 %d ns/op\n", name, s.Nanoseconds())
	}
	return buf.Bytes()
}

// compare runs benchstat's delta test between the baseline and current
// samples and reports whether current is significantly slower.
func compare(baseline, current []byte, thresholdPct float64) (string, bool) {
	c := &benchstat.Collection{
		Alpha:      0.05,
		DeltaTest:  benchstat.UTest,
		Order:      benchstat.ByDelta,
		AddGeoMean: false,
	}
	c.AddConfig("baseline", baseline)
	c.AddConfig("current", current)

	tables := c.Tables()
	var buf bytes.Buffer
	benchstat.FormatText(&buf, tables)

	regressed := false
	for _, t := range tables {
		for _, row := range t.Rows {
			if row.PctDelta > thresholdPct {
				regressed = true
			}
		}
	}
	return buf.String(), regressed
}

// setToken posts the operator-issued bearer token to the depot's /token
// endpoint so chunk-serve requests during the run don't hit a 503.
func setToken(depotURL, token string) error {
	resp, err := http.Post(depotURL+"/token", "application/json",
		bytes.NewReader([]byte(fmt.Sprintf(`{"token":%q}`, token))))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
