package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/http/httptrace"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

type sample struct {
	FirstByte  time.Duration
	Total      time.Duration
	StatusCode int
	Error      error
}

// bbox is minLon,minLat,maxLon,maxLat.
type bbox [4]float64

func parseBBox(s string) (bbox, error) {
	var b bbox
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, fmt.Errorf("bbox needs 4 comma-separated numbers, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return b, fmt.Errorf("bbox: %w", err)
		}
		b[i] = v
	}
	if b[0] >= b[2] || b[1] >= b[3] {
		return b, fmt.Errorf("bbox %q is empty", s)
	}
	return b, nil
}

// resolveURLs returns n /api/resolve URLs for points scattered uniformly over b.
func resolveURLs(base string, b bbox, n int, rng *rand.Rand) []string {
	urls := make([]string, n)
	for i := range urls {
		lon := b[0] + rng.Float64()*(b[2]-b[0])
		lat := b[1] + rng.Float64()*(b[3]-b[1])
		urls[i] = fmt.Sprintf("%s/api/resolve?lat=%.6f&lon=%.6f", base, lat, lon)
	}
	return urls
}

func main() {
	baseURL := flag.String("url", "http://localhost:8501", "Base URL of the server")
	n := flag.Int("n", 50, "Number of requests per endpoint")
	concurrency := flag.Int("c", 4, "Concurrency level (1 = sequential)")
	area := flag.String("bbox", "-49.39,-25.65,-49.18,-25.34", "Area for random resolve points: minLon,minLat,maxLon,maxLat")
	seed := flag.Uint64("seed", 1, "Random seed for resolve points")
	flag.Parse()

	b, err := parseBBox(*area)
	if err != nil {
		log.Fatal(err)
	}
	base := strings.TrimRight(*baseURL, "/")
	client := &http.Client{Timeout: 5 * time.Second}

	fmt.Printf("Benchmarking %s with N=%d, C=%d\n\n", base, *n, *concurrency)

	for _, ep := range []string{"/health", "/api/version", "/api/dataset", "/api/neighborhoods", "/api/stats"} {
		urls := make([]string, *n)
		for i := range urls {
			urls[i] = base + ep
		}
		report(ep, run(client, urls, *concurrency))
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	report("/api/resolve (random points)", run(client, resolveURLs(base, b, *n, rng), *concurrency))
}

func run(client *http.Client, urls []string, concurrency int) []sample {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]sample, len(urls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = measure(client, u)
		}()
	}
	wg.Wait()
	return results
}

func report(name string, results []sample) {
	var total, ttfb []time.Duration
	errorsCount := 0
	statuses := map[int]int{}
	for _, r := range results {
		if r.Error != nil {
			errorsCount++
			continue
		}
		statuses[r.StatusCode]++
		total = append(total, r.Total)
		ttfb = append(ttfb, r.FirstByte)
	}

	fmt.Printf("Endpoint: %s\n", name)
	if errorsCount > 0 {
		fmt.Printf("  Errors: %d/%d\n", errorsCount, len(results))
	}
	if len(total) == 0 {
		fmt.Println("  No successful requests.")
		fmt.Println()
		return
	}
	slices.Sort(total)
	slices.Sort(ttfb)

	fmt.Printf("  Status: %v\n", statuses)
	fmt.Printf("  Latency (Total): Min %v | P50 %v | P95 %v | Max %v\n",
		total[0], percentile(total, 50), percentile(total, 95), total[len(total)-1])
	fmt.Printf("  Latency (TTFB) : Min %v | P50 %v | P95 %v | Max %v\n",
		ttfb[0], percentile(ttfb, 50), percentile(ttfb, 95), ttfb[len(ttfb)-1])
	fmt.Println()
}

func measure(client *http.Client, url string) sample {
	var s sample
	var wroteRequest time.Time

	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		s.Error = err
		return s
	}
	trace := &httptrace.ClientTrace{
		WroteRequest:         func(httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() { s.FirstByte = time.Since(wroteRequest) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		s.Error = err
		return s
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		s.Error = err
		return s
	}
	s.Total = time.Since(start)
	s.StatusCode = resp.StatusCode
	return s
}

// percentile expects sorted input and uses the nearest-rank method.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
