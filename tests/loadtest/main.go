// Load test for a running daemon in hosted mode. Every worker owns one
// tenant, so its events stay in timestamp order.
package main

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

const (
	baseURL      = "http://127.0.0.1:8090/api/stream-history"
	numWorkers   = 50
	testDuration = 10 * time.Second
	tenantHeader = "X-Tenant-ID"
)

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 200,
		IdleConnTimeout:     30 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

type result struct {
	endpoint string
	status   int
	latency  time.Duration
	err      bool
}

type stats struct {
	count     int64
	errors    int64
	latencies []time.Duration
}

// worker replays a synthetic stream for its tenant. Event time runs ahead
// of wall time so a few seconds of load cover days of history.
type worker struct {
	tenant  string
	rng     *rand.Rand
	at      int64
	live    bool
	viewers int
}

func newWorker(id int, seed int64) *worker {
	return &worker{
		tenant: fmt.Sprintf("load-%d", id),
		rng:    rand.New(rand.NewSource(seed)),
		at:     time.Now().Add(-30 * 24 * time.Hour).UnixMilli(),
	}
}

func main() {
	fmt.Println("=== SHD Load Test ===")
	fmt.Printf("Workers: %d | Duration: %s\n\n", numWorkers, testDuration)

	fmt.Print("Waiting for server... ")
	for i := 0; i < 30; i++ {
		resp, err := httpClient.Get(strings.TrimSuffix(baseURL, "/api/stream-history") + "/health")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			break
		}
		if i == 29 {
			fmt.Println("FAILED: server not responding")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("OK")

	fmt.Println("\n--- Phase 1: Seeding history (POST /event) ---")
	runPhase(testDuration, func(w *worker) result {
		return w.postEvent()
	})

	fmt.Println("\n--- Phase 2: Mixed load (60% events, 40% reads) ---")
	runPhase(testDuration, func(w *worker) result {
		r := w.rng.Float64()
		switch {
		case r < 0.55:
			return w.postEvent()
		case r < 0.60:
			return w.postTip()
		case r < 0.80:
			return w.getSummary()
		case r < 0.95:
			return w.getPerformance()
		default:
			return w.get("/status", "GET /status")
		}
	})

	fmt.Println("\n--- Phase 3: Read-heavy load (5% events, 95% reads) ---")
	runPhase(testDuration, func(w *worker) result {
		r := w.rng.Float64()
		switch {
		case r < 0.05:
			return w.postEvent()
		case r < 0.55:
			return w.getSummary()
		case r < 0.90:
			return w.getPerformance()
		default:
			return w.get("/export", "GET /export")
		}
	})
}

func runPhase(duration time.Duration, workFn func(w *worker) result) {
	results := make(chan result, 10000)
	var wg sync.WaitGroup
	var totalOps atomic.Int64
	stop := make(chan struct{})

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r := workFn(w)
					totalOps.Add(1)
					results <- r
				}
			}
		}(newWorker(i, rand.Int63()+int64(i)))
	}

	allResults := make(map[string]*stats)
	done := make(chan struct{})
	go func() {
		for r := range results {
			s, ok := allResults[r.endpoint]
			if !ok {
				s = &stats{}
				allResults[r.endpoint] = s
			}
			s.count++
			if r.err {
				s.errors++
			}
			s.latencies = append(s.latencies, r.latency)
		}
		close(done)
	}()

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	close(results)
	<-done

	printResults(allResults, duration)
}

func printResults(allResults map[string]*stats, duration time.Duration) {
	var totalOps int64
	var totalErrors int64

	endpoints := make([]string, 0, len(allResults))
	for ep := range allResults {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Printf("\n  %-22s %8s %6s %10s %10s %10s %10s\n",
		"Endpoint", "Reqs", "Errs", "Avg", "P50", "P95", "P99")
	fmt.Println("  " + strings.Repeat("-", 88))

	for _, ep := range endpoints {
		s := allResults[ep]
		totalOps += s.count
		totalErrors += s.errors

		sort.Slice(s.latencies, func(i, j int) bool {
			return s.latencies[i] < s.latencies[j]
		})

		fmt.Printf("  %-22s %8d %6d %10s %10s %10s %10s\n",
			ep, s.count, s.errors, fmtDur(avgDuration(s.latencies)),
			fmtDur(percentile(s.latencies, 0.50)), fmtDur(percentile(s.latencies, 0.95)), fmtDur(percentile(s.latencies, 0.99)))
	}

	rps := float64(totalOps) / duration.Seconds()
	fmt.Println("  " + strings.Repeat("-", 88))
	fmt.Printf("  Total: %d reqs | Errors: %d (%.1f%%) | RPS: %.0f\n",
		totalOps, totalErrors, float64(totalErrors)/float64(totalOps)*100, rps)
}

// postEvent advances the synthetic clock by one poll interval and flips
// the live state now and then.
func (w *worker) postEvent() result {
	next := w.at + time.Minute.Milliseconds()
	if now := time.Now().UnixMilli(); next > now {
		next = max(w.at+1, now)
	}
	w.at = next
	if w.rng.Float64() < 0.02 {
		w.live = !w.live
	}
	if w.live {
		w.viewers = max(0, w.viewers+w.rng.Intn(11)-5)
	} else {
		w.viewers = 0
	}
	body := map[string]interface{}{"live": w.live, "at": w.at, "viewers": w.viewers}
	return w.post("/event", "POST /event", body, http.StatusCreated)
}

func (w *worker) postTip() result {
	body := map[string]interface{}{"amount": fmt.Sprintf("%.2f", w.rng.Float64()*10), "source": "loadtest"}
	return w.post("/tip", "POST /tip", body, http.StatusCreated)
}

func (w *worker) getSummary() result {
	periods := []string{"day", "week", "month", "year"}
	return w.get(fmt.Sprintf("/summary?period=%s&span=%d&tz=%d",
		periods[w.rng.Intn(len(periods))], w.rng.Intn(30)+1, (w.rng.Intn(25)-12)*60), "GET /summary")
}

func (w *worker) getPerformance() result {
	return w.get(fmt.Sprintf("/performance?period=week&recent=%d", w.rng.Intn(10)), "GET /performance")
}

func (w *worker) post(path, endpoint string, body interface{}, want int) result {
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return w.do(req, endpoint, want)
}

func (w *worker) get(path, endpoint string) result {
	req, _ := http.NewRequest(http.MethodGet, baseURL+path, nil)
	return w.do(req, endpoint, http.StatusOK)
}

func (w *worker) do(req *http.Request, endpoint string, want int) result {
	req.Header.Set(tenantHeader, w.tenant)
	start := time.Now()
	resp, err := httpClient.Do(req)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, resp.StatusCode != want}
}

func avgDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}

func percentile(d []time.Duration, p float64) time.Duration {
	if len(d) == 0 {
		return 0
	}
	idx := int(float64(len(d)) * p)
	if idx >= len(d) {
		idx = len(d) - 1
	}
	return d[idx]
}

func fmtDur(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}
