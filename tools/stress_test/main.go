package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/zyre-go/network"
	"github.com/VanDung-dev/zyre-go/network/inproc"
	"github.com/VanDung-dev/zyre-go/zyre"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Backend     string
	Concurrency int
	Duration    time.Duration
	Payload     int
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

var errTimeout = errors.New("no echo before deadline")

func main() {
	config := parseFlags()

	fmt.Println("=== zyre Whisper Round-Trip Stress Test ===")
	fmt.Printf("Backend: %s\n", config.Backend)
	fmt.Printf("Concurrency: %d nodes\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Payload: %d bytes\n", config.Payload)
	fmt.Println()

	backend, err := newBackend(config.Backend)
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	result := runStressTest(config, backend)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Backend, "backend", "inproc", "Transport backend (inproc or network)")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent client nodes")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.IntVar(&config.Payload, "s", 64, "Whisper payload size in bytes")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	if config.Payload < 8 {
		config.Payload = 8
	}
	return config
}

func newBackend(name string) (zyre.Backend, error) {
	switch name {
	case "inproc":
		return inproc.NewHub(), nil
	case "network":
		cfg := network.DefaultConfig()
		cfg.Host = "127.0.0.1"
		return network.NewBackend(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// runEcho whispers every payload it receives back to the sender.
func runEcho(node *zyre.Node) {
	for {
		ev, err := node.NextEvent(context.Background())
		if err != nil {
			return
		}
		switch ev.Type() {
		case zyre.EventWhisper:
			sender, _ := ev.Sender()
			if msg, err := ev.TakeMessage(); err == nil {
				_ = node.Whisper(sender, msg)
			}
		case zyre.EventStop:
			ev.Close()
			return
		}
		ev.Close()
	}
}

func runStressTest(config StressTestConfig, backend zyre.Backend) StressTestResult {
	var (
		totalReqs    int64
		successReqs  int64
		failedReqs   int64
		totalLatency int64
		minLatency   int64 = 1<<63 - 1
		maxLatency   int64
		wg           sync.WaitGroup
		stopChan     = make(chan struct{})
	)

	echo, err := zyre.NewNode(backend, "echo")
	if err != nil {
		log.Fatalf("Failed to create echo node: %v", err)
	}
	defer echo.Close()
	if err := echo.Start(); err != nil {
		log.Fatalf("Failed to start echo node: %v", err)
	}
	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		runEcho(echo)
	}()

	startTime := time.Now()

	// Start workers
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			node, err := zyre.NewNode(backend, fmt.Sprintf("client-%d", workerID))
			if err != nil {
				log.Printf("Worker %d: %v", workerID, err)
				return
			}
			defer node.Close()
			if err := node.Start(); err != nil {
				log.Printf("Worker %d: %v", workerID, err)
				return
			}
			if err := awaitPeer(node, echo.UUID()); err != nil {
				log.Printf("Worker %d: echo node not found: %v", workerID, err)
				return
			}
			runWorker(node, echo.UUID(), config, stopChan, &totalReqs, &successReqs, &failedReqs, &totalLatency, &minLatency, &maxLatency)
		}(i)
	}

	// Wait for duration
	time.Sleep(config.Duration)
	close(stopChan)
	wg.Wait()

	echo.Stop()
	<-echoDone

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)
	failed := atomic.LoadInt64(&failedReqs)
	latencySum := atomic.LoadInt64(&totalLatency)
	minLat := atomic.LoadInt64(&minLatency)
	maxLat := atomic.LoadInt64(&maxLatency)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(latencySum / success)
	} else {
		minLat = 0
	}

	return StressTestResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     failed,
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(maxLat),
		RequestsPerSec: float64(total) / duration.Seconds(),
	}
}

// awaitPeer blocks until peer has entered.
func awaitPeer(node *zyre.Node, peer string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		ev, err := node.NextEvent(ctx)
		if err != nil {
			return err
		}
		sender, _ := ev.Sender()
		entered := ev.Type() == zyre.EventEnter && sender == peer
		ev.Close()
		if entered {
			return nil
		}
	}
}

func runWorker(node *zyre.Node, echo string, config StressTestConfig, stop chan struct{}, totalReqs, successReqs, failedReqs, totalLatency, minLatency, maxLatency *int64) {
	var seq uint64
	for {
		select {
		case <-stop:
			return
		default:
			seq++
			latency, err := roundTrip(node, echo, seq, config.Payload)
			atomic.AddInt64(totalReqs, 1)

			if err != nil {
				atomic.AddInt64(failedReqs, 1)
				// Small sleep on error to avoid hammering
				time.Sleep(10 * time.Millisecond)
			} else {
				atomic.AddInt64(successReqs, 1)
				atomic.AddInt64(totalLatency, int64(latency))

				// Update min/max latency
				lat := int64(latency)
				for {
					old := atomic.LoadInt64(minLatency)
					if lat >= old || atomic.CompareAndSwapInt64(minLatency, old, lat) {
						break
					}
				}
				for {
					old := atomic.LoadInt64(maxLatency)
					if lat <= old || atomic.CompareAndSwapInt64(maxLatency, old, lat) {
						break
					}
				}
			}
		}
	}
}

// roundTrip whispers a payload tagged with seq and waits for its echo.
func roundTrip(node *zyre.Node, echo string, seq uint64, size int) (time.Duration, error) {
	payload := make([]byte, size)
	binary.BigEndian.PutUint64(payload, seq)

	start := time.Now()
	if err := node.Whisper(echo, zyre.NewMsg(payload)); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, err := node.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return 0, errTimeout
			}
			return 0, err
		}
		if ev.Type() != zyre.EventWhisper {
			ev.Close()
			continue
		}
		msg, err := ev.TakeMessage()
		ev.Close()
		if err != nil {
			return 0, err
		}
		// Late echoes from timed-out requests are skipped.
		if b := msg.Bytes(); len(b) >= 8 && binary.BigEndian.Uint64(b) == seq {
			return time.Since(start), nil
		}
	}
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, float64(result.SuccessfulReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, float64(result.FailedReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"backend":     config.Backend,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"payload":     config.Payload,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
