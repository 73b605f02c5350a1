// Replay tool for running a customer upload against a Kestrel server.
//
// Usage:
//
//	go run ./cmd/replay -file customers.json -url http://localhost:8080
//
// This tool:
//  1. Reads an upload file ({"customers": [...]})
//  2. Splits it into chunks and posts them to /cases/batch concurrently
//  3. Reports how the cases were classified, how many need a SAR,
//     and the throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/kestrel/internal/api"
)

// upload keeps customers raw so they are forwarded exactly as read.
type upload struct {
	Profile   string            `json:"profile,omitempty"`
	Customers []json.RawMessage `json:"customers"`
}

// Summary accumulates batch responses.
type Summary struct {
	mu sync.Mutex

	Total            int
	Assessed         int
	Failed           int
	SARRequired      int
	RequestErrors    int
	ByClassification map[string]int
	Failures         []string
}

func (s *Summary) add(resp *api.BatchResponse, offset int, verbose bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Total += resp.Total
	s.Assessed += resp.Assessed
	s.Failed += resp.Failed
	for label, n := range resp.ByClassification {
		s.ByClassification[label] += n
	}
	for _, r := range resp.Results {
		if r.RequiresSAR {
			s.SARRequired++
		}
		if r.Error != "" {
			s.Failures = append(s.Failures, fmt.Sprintf("#%d %s: %s", offset+r.Index, r.CustomerID, r.Error))
		}
		if verbose && r.Error == "" {
			fmt.Printf("  %-16s %-24s score %3d  %-6s %s\n", r.CustomerID, r.CaseID, r.Score, r.Status, r.Classification)
		}
	}
	for _, r := range resp.Rejected {
		s.Failures = append(s.Failures, fmt.Sprintf("#%d %s: %s", offset+r.Index, r.CustomerID, r.Error))
	}
}

func main() {
	file := flag.String("file", "", "Path to a customers JSON upload")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	profileName := flag.String("profile", "", "Risk profile to force (default: by currency)")
	chunk := flag.Int("chunk", 100, "Customers per batch request")
	workers := flag.Int("workers", 4, "Concurrent batch requests")
	verbose := flag.Bool("verbose", false, "Print each assessed case")
	flag.Parse()

	if *file == "" {
		fmt.Println("Usage: replay -file customers.json [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *chunk < 1 {
		*chunk = 1
	}
	if *workers < 1 {
		*workers = 1
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                 KESTREL REPLAY - Case Upload                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nFile:        %s\n", *file)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Chunk size:  %d\n", *chunk)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	u, size, err := readUpload(*file)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if *profileName != "" {
		u.Profile = *profileName
	}
	fmt.Printf("✓ Loaded %s customers (%s)\n", humanize.Comma(int64(len(u.Customers))), humanize.Bytes(uint64(size)))

	start := time.Now()
	summary := replay(u, *baseURL, *tenantID, *chunk, *workers, *verbose)
	printResults(summary, time.Since(start))
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readUpload(path string) (*upload, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var u upload
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(u.Customers) == 0 {
		return nil, 0, fmt.Errorf("%s has no customers", path)
	}
	return &u, len(data), nil
}

type job struct {
	offset    int
	customers []json.RawMessage
}

func replay(u *upload, baseURL, tenantID string, chunk, numWorkers int, verbose bool) *Summary {
	summary := &Summary{ByClassification: make(map[string]int)}

	work := make(chan job, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 2 * time.Minute}

			for j := range work {
				resp, err := postBatch(client, baseURL, tenantID, upload{Profile: u.Profile, Customers: j.customers})
				if err != nil {
					summary.mu.Lock()
					summary.RequestErrors++
					summary.Total += len(j.customers)
					summary.Failed += len(j.customers)
					summary.Failures = append(summary.Failures, fmt.Sprintf("chunk at #%d: %v", j.offset, err))
					summary.mu.Unlock()
					continue
				}
				summary.add(resp, j.offset, verbose)
			}
		}()
	}

	for off := 0; off < len(u.Customers); off += chunk {
		end := min(off+chunk, len(u.Customers))
		work <- job{offset: off, customers: u.Customers[off:end]}
	}
	close(work)

	wg.Wait()
	return summary
}

func postBatch(client *http.Client, baseURL, tenantID string, u upload) (*api.BatchResponse, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/cases/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}

	var result api.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(s *Summary, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nCASES\n")
	fmt.Printf("   Total:          %s\n", humanize.Comma(int64(s.Total)))
	fmt.Printf("   Assessed:       %s\n", humanize.Comma(int64(s.Assessed)))
	fmt.Printf("   Failed:         %s\n", humanize.Comma(int64(s.Failed)))
	fmt.Printf("   SAR required:   %s\n", humanize.Comma(int64(s.SARRequired)))
	fmt.Printf("   Request errors: %d\n", s.RequestErrors)

	fmt.Printf("\nCLASSIFICATION\n")
	labels := make([]string, 0, len(s.ByClassification))
	for label := range s.ByClassification {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return s.ByClassification[labels[i]] > s.ByClassification[labels[j]]
	})
	for _, label := range labels {
		n := s.ByClassification[label]
		pct := 0.0
		if s.Assessed > 0 {
			pct = 100 * float64(n) / float64(s.Assessed)
		}
		fmt.Printf("   %-32s %8s  %5.1f%%\n", label, humanize.Comma(int64(n)), pct)
	}

	if len(s.Failures) > 0 {
		fmt.Printf("\nFAILURES (first 10)\n")
		for _, f := range s.Failures[:min(10, len(s.Failures))] {
			fmt.Printf("   %s\n", f)
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration: %v\n", duration.Round(time.Millisecond))
	if s.Total > 0 && duration > 0 {
		fmt.Printf("   Throughput:     %s cases/sec\n", humanize.CommafWithDigits(float64(s.Total)/duration.Seconds(), 1))
	}
	fmt.Println()
}
