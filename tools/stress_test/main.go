package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Nodes       int
	Topology    string
	Messages    int
	Concurrency int
	Settle      time.Duration
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	Sent            int64
	SendFailures    int64
	Expected        int64
	Delivered       int64
	Duplicates      int64
	TotalDuration   time.Duration
	AvgLatency      time.Duration
	MaxLatency      time.Duration
	MessagesPerSec  float64
	DeliveryPercent float64
}

type tracker struct {
	mu        sync.Mutex
	sentAt    map[string]time.Time
	delivered map[string]map[string]bool

	count      int64
	duplicates int64
	latencySum int64
	maxLatency int64
}

func newTracker() *tracker {
	return &tracker{
		sentAt:    make(map[string]time.Time),
		delivered: make(map[string]map[string]bool),
	}
}

func (t *tracker) sent(id string) {
	t.mu.Lock()
	t.sentAt[id] = time.Now()
	t.mu.Unlock()
}

func (t *tracker) handler(node string) network.ApplicationHandler {
	return func(env network.Envelope) {
		seq, _ := env.Data.Fields["seq"].(string)

		t.mu.Lock()
		defer t.mu.Unlock()

		seen := t.delivered[seq]
		if seen == nil {
			seen = make(map[string]bool)
			t.delivered[seq] = seen
		}
		if seen[node] {
			t.duplicates++
			return
		}
		seen[node] = true
		t.count++

		if at, ok := t.sentAt[seq]; ok {
			lat := int64(time.Since(at))
			t.latencySum += lat
			if lat > t.maxLatency {
				t.maxLatency = lat
			}
		}
	}
}

func main() {
	config := parseFlags()

	fmt.Println("=== HieraChain Relay Gossip Stress Test ===")
	fmt.Printf("Nodes:       %d (%s)\n", config.Nodes, config.Topology)
	fmt.Printf("Messages:    %d\n", config.Messages)
	fmt.Printf("Concurrency: %d senders\n", config.Concurrency)
	fmt.Println()

	result, err := runStressTest(config)
	if err != nil {
		log.Fatalf("Stress test failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.IntVar(&config.Nodes, "nodes", 5, "Number of in-process relay nodes")
	flag.StringVar(&config.Topology, "topology", "line", "Mesh shape: line, ring or full")
	flag.IntVar(&config.Messages, "n", 1000, "Number of messages to gossip")
	flag.IntVar(&config.Concurrency, "c", 4, "Number of concurrent senders")
	flag.DurationVar(&config.Settle, "settle", 5*time.Second, "How long to wait for deliveries after the last send")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func startNodes(count int) ([]*network.Node, error) {
	nodes := make([]*network.Node, 0, count)
	for i := 0; i < count; i++ {
		cfg := network.DefaultConfig()
		cfg.Port = 0
		cfg.MaxConnections = count

		n := network.NewNode(cfg)
		if err := n.Start(context.Background()); err != nil {
			stopNodes(nodes)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func stopNodes(nodes []*network.Node) {
	for _, n := range nodes {
		n.Stop()
	}
}

func wire(nodes []*network.Node, topology string) error {
	connect := func(a, b *network.Node) error {
		return a.Connect(b.Address())
	}

	switch topology {
	case "line", "ring":
		for i := 0; i+1 < len(nodes); i++ {
			if err := connect(nodes[i], nodes[i+1]); err != nil {
				return err
			}
		}
		if topology == "ring" && len(nodes) > 2 {
			return connect(nodes[len(nodes)-1], nodes[0])
		}
	case "full":
		for i := range nodes {
			for j := i + 1; j < len(nodes); j++ {
				if err := connect(nodes[i], nodes[j]); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unknown topology %q", topology)
	}
	return nil
}

func runStressTest(config StressTestConfig) (StressTestResult, error) {
	if config.Nodes < 2 {
		return StressTestResult{}, fmt.Errorf("need at least 2 nodes, got %d", config.Nodes)
	}

	nodes, err := startNodes(config.Nodes)
	if err != nil {
		return StressTestResult{}, err
	}
	defer stopNodes(nodes)

	if err := wire(nodes, config.Topology); err != nil {
		return StressTestResult{}, err
	}
	// Reciprocal links are set up asynchronously.
	time.Sleep(500 * time.Millisecond)

	t := newTracker()
	for i, n := range nodes[1:] {
		n.SetApplicationHandler(t.handler(fmt.Sprintf("node-%d", i+1)))
	}

	var (
		sent     int64
		failures int64
		next     int64
		wg       sync.WaitGroup
	)

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				seq := atomic.AddInt64(&next, 1)
				if seq > int64(config.Messages) {
					return
				}
				key := fmt.Sprintf("%d", seq)
				t.sent(key)
				if _, err := nodes[0].SendNetworkMessage(map[string]any{"seq": key}, nil); err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				atomic.AddInt64(&sent, 1)
			}
		}()
	}
	wg.Wait()

	expected := sent * int64(len(nodes)-1)
	deadline := time.Now().Add(config.Settle)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		done := t.count >= expected
		t.mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	duration := time.Since(startTime)

	t.mu.Lock()
	defer t.mu.Unlock()

	var avgLatency time.Duration
	if t.count > 0 {
		avgLatency = time.Duration(t.latencySum / t.count)
	}
	var pct float64
	if expected > 0 {
		pct = float64(t.count) / float64(expected) * 100
	}

	return StressTestResult{
		Sent:            sent,
		SendFailures:    failures,
		Expected:        expected,
		Delivered:       t.count,
		Duplicates:      t.duplicates,
		TotalDuration:   duration,
		AvgLatency:      avgLatency,
		MaxLatency:      time.Duration(t.maxLatency),
		MessagesPerSec:  float64(t.count) / duration.Seconds(),
		DeliveryPercent: pct,
	}, nil
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Sent:            %d (%d failed)\n", result.Sent, result.SendFailures)
	fmt.Printf("Delivered:       %d / %d (%.2f%%)\n", result.Delivered, result.Expected, result.DeliveryPercent)
	fmt.Printf("Duplicates:      %d\n", result.Duplicates)
	fmt.Printf("Deliveries/sec:  %.2f\n", result.MessagesPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"nodes":       config.Nodes,
			"topology":    config.Topology,
			"messages":    config.Messages,
			"concurrency": config.Concurrency,
		},
		"results": map[string]interface{}{
			"sent":               result.Sent,
			"send_failures":      result.SendFailures,
			"expected":           result.Expected,
			"delivered":          result.Delivered,
			"duplicates":         result.Duplicates,
			"delivery_percent":   result.DeliveryPercent,
			"deliveries_per_sec": result.MessagesPerSec,
			"avg_latency_ms":     float64(result.AvgLatency.Microseconds()) / 1000,
			"max_latency_ms":     float64(result.MaxLatency.Microseconds()) / 1000,
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
