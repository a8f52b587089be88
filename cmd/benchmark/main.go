package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	Tiers         map[string]int
}

// workload draws keys so that hotShare of operations hit the first hotKeys
// keys of the key space.
type workload struct {
	keys     int
	hotKeys  int
	hotShare float64
}

func (w workload) key(rnd *rand.Rand) string {
	if rnd.Float64() < w.hotShare {
		return fmt.Sprintf("key_%06d", rnd.Intn(w.hotKeys))
	}
	return fmt.Sprintf("key_%06d", w.hotKeys+rnd.Intn(w.keys-w.hotKeys))
}

var client = &http.Client{Timeout: 5 * time.Second}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "hotcold server")
	ops := flag.Int("ops", 10000, "operations per phase")
	concurrency := flag.Int("c", 8, "goroutines")
	keys := flag.Int("keys", 5000, "key space size")
	hotKeys := flag.Int("hot-keys", 100, "size of the hot key set")
	hotShare := flag.Float64("hot-share", 0.8, "share of operations hitting hot keys")
	valueSize := flag.Int("value-size", 64, "value size in bytes")
	flag.Parse()

	fmt.Println("=== HotCold Benchmark ===")
	fmt.Printf("Target: %s\n\n", *baseURL)

	// Проверка доступности
	if !checkHealth(*baseURL) {
		fmt.Printf("ERROR: %s is not available\n", *baseURL)
		return
	}

	w := workload{keys: *keys, hotKeys: min(*hotKeys, *keys-1), hotShare: *hotShare}
	value := strings.Repeat("v", *valueSize)

	fmt.Printf("Phase 1: skewed writes (%d ops, %d goroutines)\n", *ops, *concurrency)
	writes := run(*ops, *concurrency, func(rnd *rand.Rand) (string, error) {
		return "", putKey(*baseURL, w.key(rnd), value)
	})
	printResult(writes)

	fmt.Printf("\nPhase 2: skewed reads (%d ops, %d goroutines)\n", *ops, *concurrency)
	reads := run(*ops, *concurrency, func(rnd *rand.Rand) (string, error) {
		return getTier(*baseURL, w.key(rnd))
	})
	printResult(reads)

	fmt.Println("\n=== Benchmark Complete ===")
}

// run spreads totalOps over concurrency goroutines and aggregates latency
// and the tier label each op reports.
func run(totalOps, concurrency int, op func(rnd *rand.Rand) (string, error)) BenchmarkResult {
	start := time.Now()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, totalOps)
		res       = BenchmarkResult{TotalOps: totalOps, Tiers: make(map[string]int)}
	)

	for i := 0; i < concurrency; i++ {
		n := totalOps / concurrency
		if i < totalOps%concurrency {
			n++
		}
		wg.Add(1)
		go func(seed int64, n int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for j := 0; j < n; j++ {
				opStart := time.Now()
				tier, err := op(rnd)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					res.SuccessfulOps++
					if tier != "" {
						res.Tiers[tier]++
					}
				} else {
					res.FailedOps++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}(time.Now().UnixNano()+int64(i), n)
	}

	wg.Wait()
	res.Duration = time.Since(start)

	// Вычисление статистики латентности
	var sum time.Duration
	for i, lat := range latencies {
		if i == 0 || lat < res.MinLatency {
			res.MinLatency = lat
		}
		res.MaxLatency = max(res.MaxLatency, lat)
		sum += lat
	}
	if len(latencies) > 0 {
		res.AvgLatency = sum / time.Duration(len(latencies))
	}
	res.OpsPerSec = float64(res.SuccessfulOps) / res.Duration.Seconds()
	return res
}

func checkHealth(baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func putKey(baseURL, key, value string) error {
	data := url.Values{}
	data.Set("key", key)
	data.Set("value", value)

	req, err := http.NewRequest(http.MethodPut, baseURL+"/api/record", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Читаем тело ответа для очистки
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// getTier reports where the server found key: "hot", "staging" or "cold"
// when it is no longer held in memory.
func getTier(baseURL, key string) (string, error) {
	resp, err := client.Get(baseURL + "/api/record?key=" + url.QueryEscape(key))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return "cold", nil
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Tier, nil
}

func printResult(result BenchmarkResult) {
	fmt.Printf("  Total Operations: %d\n", result.TotalOps)
	fmt.Printf("  Successful: %d\n", result.SuccessfulOps)
	fmt.Printf("  Failed: %d\n", result.FailedOps)
	fmt.Printf("  Duration: %v\n", result.Duration)
	fmt.Printf("  Operations/sec: %.2f\n", result.OpsPerSec)
	fmt.Printf("  Avg Latency: %v\n", result.AvgLatency)
	fmt.Printf("  Min Latency: %v\n", result.MinLatency)
	fmt.Printf("  Max Latency: %v\n", result.MaxLatency)
	for tier, n := range result.Tiers {
		fmt.Printf("  Tier %s: %d\n", tier, n)
	}
}
