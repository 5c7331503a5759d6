// main.go - Ingestion load generator for sitepulse
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"sitepulse/internal/events"
)

// LoadConfig holds the configuration for the load run.
type LoadConfig struct {
	BaseURL      string
	SiteID       uint
	Concurrency  int
	Duration     time.Duration
	EventsPerSec int
	Timeout      time.Duration
	Verbose      bool
}

// LoadStats accumulates results across workers.
type LoadStats struct {
	TotalRequests      int64
	AcceptedRequests   int64
	FailedRequests     int64
	RetryLaterCount    int64
	TotalLatency       int64
	MinLatency         time.Duration
	MaxLatency         time.Duration
	StatusCodes        map[int]int64
	StatusCodesMutex   sync.Mutex
	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.Mutex
	StartTime          time.Time
	EndTime            time.Time
}

// Result captures one request.
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

// visitor is a simulated browser: a stable visitor ID plus a rotating
// session, the same shape the tracker snippet produces.
type visitor struct {
	id         string
	sessionID  string
	eventsLeft int
	currentURL string
}

var samplePaths = []string{
	"/", "/pricing", "/docs", "/docs/install", "/blog",
	"/blog/launch", "/about", "/contact", "/signup", "/features",
}

var sampleReferrers = []string{
	"https://www.google.com/search", "https://news.ycombinator.com/",
	"https://duckduckgo.com/", "https://twitter.com/", "",
	"", "", // direct traffic is common
}

var sampleUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the API")
	siteID := flag.Uint("site", 1, "Registered site ID to send events for")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the run")
	eventsPerSec := flag.Int("rate", 0, "Target events per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	verbose := flag.Bool("verbose", false, "Log every error response body")
	flag.Parse()

	cfg := &LoadConfig{
		BaseURL:      strings.TrimRight(*baseURL, "/"),
		SiteID:       *siteID,
		Concurrency:  *concurrency,
		Duration:     *duration,
		EventsPerSec: *eventsPerSec,
		Timeout:      *timeout,
		Verbose:      *verbose,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, stopping...\n", sig)
		cancel()
	}()

	fmt.Printf("Target: %s/api/v1/events (site %d)\n", cfg.BaseURL, cfg.SiteID)
	fmt.Printf("Clients: %d, duration: %v", cfg.Concurrency, cfg.Duration)
	if cfg.EventsPerSec > 0 {
		fmt.Printf(", rate: %d events/s\n", cfg.EventsPerSec)
	} else {
		fmt.Println(", rate: unlimited")
	}

	stats := &LoadStats{
		StatusCodes: make(map[int]int64),
		StartTime:   time.Now(),
	}

	runCtx, runCancel := context.WithTimeout(ctx, cfg.Duration)
	defer runCancel()

	for result := range runLoad(runCtx, cfg) {
		recordResult(result, stats)
	}

	stats.EndTime = time.Now()
	printResults(stats)
}

// runLoad fans out workers and returns their aggregated result stream.
func runLoad(ctx context.Context, cfg *LoadConfig) <-chan Result {
	resultChan := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	perWorkerRate := 0.0
	if cfg.EventsPerSec > 0 {
		perWorkerRate = float64(cfg.EventsPerSec) / float64(cfg.Concurrency)
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			v := newVisitor(rng)

			var ticker *time.Ticker
			if perWorkerRate > 0 {
				ticker = time.NewTicker(time.Duration(float64(time.Second) / perWorkerRate))
				defer ticker.Stop()
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
					if ticker != nil {
						select {
						case <-ticker.C:
						case <-ctx.Done():
							return
						}
					}

					resultChan <- sendEvent(client, cfg, rng, v)
					if v.eventsLeft <= 0 {
						v = newVisitor(rng)
					}
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	return resultChan
}

func newVisitor(rng *rand.Rand) *visitor {
	return &visitor{
		id:         uuid.NewString(),
		sessionID:  uuid.NewString(),
		eventsLeft: 1 + rng.Intn(8),
		currentURL: "https://example.com" + samplePaths[rng.Intn(len(samplePaths))],
	}
}

// sendEvent posts one event as the given visitor and advances their journey.
func sendEvent(client *http.Client, cfg *LoadConfig, rng *rand.Rand, v *visitor) Result {
	payload := nextPayload(cfg, rng, v)
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	req, err := http.NewRequest(http.MethodPost, cfg.BaseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", sampleUserAgents[rng.Intn(len(sampleUserAgents))])

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && cfg.Verbose {
		raw, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error response [%d]: %s\n", resp.StatusCode, string(raw))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

// nextPayload produces the next event in the visitor's journey: mostly
// pageviews with occasional goals, custom events and revenue.
func nextPayload(cfg *LoadConfig, rng *rand.Rand, v *visitor) events.IngestPayload {
	v.eventsLeft--

	payload := events.IngestPayload{
		SiteID:       cfg.SiteID,
		VisitorID:    v.id,
		SessionID:    v.sessionID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		URL:          v.currentURL,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Language:     "en-US",
	}

	switch roll := rng.Float64(); {
	case roll < 0.80:
		payload.EventType = string(events.EventTypePageView)
		payload.Referrer = sampleReferrers[rng.Intn(len(sampleReferrers))]
		v.currentURL = "https://example.com" + samplePaths[rng.Intn(len(samplePaths))]
	case roll < 0.88:
		payload.EventType = string(events.EventTypeCustom)
		payload.EventName = "cta_click"
		payload.EventData = json.RawMessage(`{"section":"hero"}`)
	case roll < 0.93:
		payload.EventType = string(events.EventTypeGoal)
		payload.EventName = "signup"
	case roll < 0.96:
		payload.EventType = string(events.EventTypeRevenue)
		payload.EventName = "purchase"
		amount := float64(10+rng.Intn(90)) + 0.99
		payload.Revenue = &amount
		payload.Currency = "USD"
	case roll < 0.98:
		payload.EventType = string(events.EventTypeOutboundClick)
		payload.EventName = "https://github.com/example"
	default:
		payload.EventType = string(events.EventTypeSearch)
		payload.EventName = "install guide"
	}

	return payload
}

// recordResult folds one request into the running stats.
func recordResult(result Result, stats *LoadStats) {
	atomic.AddInt64(&stats.TotalRequests, 1)

	if result.Error != nil {
		atomic.AddInt64(&stats.FailedRequests, 1)
		return
	}

	stats.ResponseTimesMutex.Lock()
	stats.ResponseTimes = append(stats.ResponseTimes, result.Duration)
	stats.ResponseTimesMutex.Unlock()

	stats.StatusCodesMutex.Lock()
	stats.StatusCodes[result.StatusCode]++
	stats.StatusCodesMutex.Unlock()

	if result.StatusCode == http.StatusCreated || result.StatusCode == http.StatusAccepted {
		atomic.AddInt64(&stats.AcceptedRequests, 1)
	} else {
		atomic.AddInt64(&stats.FailedRequests, 1)
		if result.StatusCode == 599 {
			atomic.AddInt64(&stats.RetryLaterCount, 1)
		}
	}

	atomic.AddInt64(&stats.TotalLatency, int64(result.Duration))
	if stats.MinLatency == 0 || result.Duration < stats.MinLatency {
		stats.MinLatency = result.Duration
	}
	if result.Duration > stats.MaxLatency {
		stats.MaxLatency = result.Duration
	}
}

// printResults renders the run summary.
func printResults(stats *LoadStats) {
	total := stats.TotalRequests
	if total == 0 {
		fmt.Println("No requests were sent")
		return
	}

	elapsed := stats.EndTime.Sub(stats.StartTime)
	rps := float64(total) / elapsed.Seconds()
	avgLatency := time.Duration(stats.TotalLatency / total)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests\t%d\n", total)
	fmt.Fprintf(w, "Accepted\t%d (%.2f%%)\n", stats.AcceptedRequests, 100*float64(stats.AcceptedRequests)/float64(total))
	fmt.Fprintf(w, "Failed\t%d (%.2f%%)\n", stats.FailedRequests, 100*float64(stats.FailedRequests)/float64(total))
	if stats.RetryLaterCount > 0 {
		fmt.Fprintf(w, "Retry-Later (599)\t%d\n", stats.RetryLaterCount)
	}
	fmt.Fprintf(w, "Requests/sec\t%.2f\n", rps)
	fmt.Fprintf(w, "Min Latency\t%v\n", stats.MinLatency)
	fmt.Fprintf(w, "Avg Latency\t%v\n", avgLatency)
	fmt.Fprintf(w, "Max Latency\t%v\n", stats.MaxLatency)
	w.Flush()

	if len(stats.StatusCodes) > 0 {
		fmt.Println("\nStatus Code Distribution:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", "STATUS", "COUNT", "PERCENTAGE", "GRAPH")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", "------", "-----", "----------", "-----")

		var codes []int
		var maxCount int64 = 1
		for code, count := range stats.StatusCodes {
			codes = append(codes, code)
			if count > maxCount {
				maxCount = count
			}
		}
		sort.Ints(codes)

		const maxBarLength = 50
		for _, code := range codes {
			count := stats.StatusCodes[code]
			bar := strings.Repeat("#", int(float64(count)/float64(maxCount)*maxBarLength))
			fmt.Fprintf(w, "%d\t%d\t%.2f%%\t%s\n", code, count, 100*float64(count)/float64(total), bar)
		}
		w.Flush()
	}

	if n := len(stats.ResponseTimes); n > 0 {
		sort.Slice(stats.ResponseTimes, func(i, j int) bool {
			return stats.ResponseTimes[i] < stats.ResponseTimes[j]
		})
		fmt.Println("\nLatency Percentiles:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "50th (Median)\t%v\n", stats.ResponseTimes[n*50/100])
		fmt.Fprintf(w, "90th\t%v\n", stats.ResponseTimes[min(n*90/100, n-1)])
		fmt.Fprintf(w, "95th\t%v\n", stats.ResponseTimes[min(n*95/100, n-1)])
		fmt.Fprintf(w, "99th\t%v\n", stats.ResponseTimes[min(n*99/100, n-1)])
		w.Flush()
	}
}
