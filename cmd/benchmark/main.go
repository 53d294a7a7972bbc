package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Hammers the verify endpoint with concurrent reconciliation triggers to
// observe outcome and conflict rates under contention. Point it at links
// sharing one wallet for the interesting case.

var (
	targetURL   string
	linkIDsFlag string
	concurrency int
	duration    time.Duration
)

// Metrics
var (
	totalRequests uint64
	verified      uint64
	notVerified   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&linkIDsFlag, "links", "", "Comma-separated payment link IDs to verify")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
}

func main() {
	flag.Parse()
	linkIDs := strings.Split(linkIDsFlag, ",")
	if linkIDsFlag == "" || len(linkIDs) == 0 {
		log.Fatal("at least one link ID is required (-links)")
	}

	log.Printf("Starting Benchmark | Links: %d | Workers: %d | Duration: %s", len(linkIDs), concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, linkIDs)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, linkIDs []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 30 * time.Second}

	for time.Since(start) < duration {
		linkID := linkIDs[rand.Intn(len(linkIDs))]

		resp, err := client.Post(targetURL+"/api/v1/links/"+linkID+"/verify", "application/json", nil)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		if resp.StatusCode == http.StatusOK {
			var result struct {
				Verified bool `json:"verified"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.Verified {
				atomic.AddUint64(&verified, 1)
			} else {
				atomic.AddUint64(&notVerified, 1)
			}
		} else {
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&verified)
	miss := atomic.LoadUint64(&notVerified)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": float64(total) / d.Seconds(),
		"verified":       ok,
		"not_verified":   miss,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, _ := os.Create(fmt.Sprintf("results_verify_%d.json", concurrency))
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
