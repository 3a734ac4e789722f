package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	httpserver "github.com/iago/json2excel-back/internal/http"
	"github.com/iago/json2excel-back/internal/http/handlers"
	"github.com/iago/json2excel-back/internal/http/middleware"
	"github.com/iago/json2excel-back/internal/queue"
	"github.com/iago/json2excel-back/internal/repository"
	"github.com/iago/json2excel-back/internal/service"
	"github.com/iago/json2excel-back/internal/storage"
)

var errQueueFull = errors.New("queue full")

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	Rejected      int64    `json:"rejected,omitempty"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	RecordsPerFile int              `json:"records_per_file"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	baseURL string
	close   func()
}

func main() {
	target := flag.String("target", "", "base URL of a running API; empty starts an in-process server")
	token := flag.String("token", "", "bearer token for the target API")
	records := flag.Int("records", 500, "records per uploaded JSON document")
	uploadsTotal := flag.Int("uploads-total", 40, "total upload requests")
	uploadsConcurrency := flag.Int("uploads-concurrency", 8, "concurrency for upload requests")
	createTotal := flag.Int("create-total", 120, "total job creation requests")
	createConcurrency := flag.Int("create-concurrency", 24, "concurrency for job creation requests")
	statusTotal := flag.Int("status-total", 400, "total job status requests")
	statusConcurrency := flag.Int("status-concurrency", 32, "concurrency for job status requests")
	conversionsTotal := flag.Int("conversions-total", 20, "total end-to-end conversions")
	conversionsConcurrency := flag.Int("conversions-concurrency", 4, "concurrency for end-to-end conversions")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment(*target)
	if err != nil {
		log.Fatalf("failed to start benchmark environment: %v", err)
	}
	defer env.close()

	client := &benchmarkClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: env.baseURL,
		token:   *token,
	}
	document := sampleDocument(*records)

	fileID, err := client.upload("load.json", document)
	if err != nil {
		log.Fatalf("failed to upload seed document: %v", err)
	}

	uploadsScenario := runScenario("uploads", *uploadsTotal, *uploadsConcurrency, func(index int) error {
		_, err := client.upload(fmt.Sprintf("load-%d.json", index), document)
		return err
	})

	var rejected int64
	var createdIDs sync.Map
	createScenario := runScenario("jobs_create", *createTotal, *createConcurrency, func(index int) error {
		jobID, err := client.createJob(fileID, index)
		if errors.Is(err, errQueueFull) {
			atomic.AddInt64(&rejected, 1)
			return nil
		}
		if err == nil {
			createdIDs.Store(index, jobID)
		}
		return err
	})
	createScenario.Rejected = rejected

	jobIDs := collectIDs(&createdIDs)
	statusScenario := runScenario("job_status", *statusTotal, *statusConcurrency, func(index int) error {
		if len(jobIDs) == 0 {
			return client.get("/v1/queue", http.StatusOK)
		}
		return client.get("/v1/jobs/"+jobIDs[index%len(jobIDs)]+"/status", http.StatusOK)
	})

	queueScenario := runScenario("queue_status", *statusTotal/4, *statusConcurrency/4, func(int) error {
		return client.get("/v1/queue", http.StatusOK)
	})

	conversionsScenario := runScenario("conversion_end_to_end", *conversionsTotal, *conversionsConcurrency, func(index int) error {
		return client.convert(fileID, index)
	})

	results := []scenarioResult{
		uploadsScenario,
		createScenario,
		statusScenario,
		queueScenario,
		conversionsScenario,
	}

	slo := map[string]bool{
		"job_status_p95_le_200ms":              statusScenario.P95MS <= 200,
		"job_create_p95_le_500ms":              createScenario.P95MS <= 500,
		"conversion_end_to_end_p95_le_30000ms": conversionsScenario.P95MS <= 30000,
	}

	environment := "local-httptest"
	if *target != "" {
		environment = *target
	}
	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		RecordsPerFile: *records,
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(target string) (*benchmarkEnv, error) {
	if target != "" {
		return &benchmarkEnv{baseURL: strings.TrimRight(target, "/"), close: func() {}}, nil
	}

	logger := log.New(io.Discard, "", 0)
	dir, err := os.MkdirTemp("", "json2excel-load-")
	if err != nil {
		return nil, err
	}

	repo := repository.NewMemoryJobsRepository()
	uploads, err := storage.NewFileStore(filepath.Join(dir, "uploads"), 64<<20, logger)
	if err != nil {
		return nil, err
	}
	conversions, err := service.NewConversionService(repo, nil, filepath.Join(dir, "outputs"), logger)
	if err != nil {
		return nil, err
	}

	manager, err := service.NewJobManager(service.JobManagerDeps{
		Repo:      repo,
		Queue:     queue.NewLocalQueue(service.DefaultMaxActiveJobs, logger),
		Uploads:   uploads,
		Options:   conversions,
		Executor:  conversions,
		Artifacts: conversions,
		Logger:    logger,
	}, service.JobManagerConfig{
		PollInterval: 20 * time.Millisecond,
		IdleDelay:    time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	manager.Start()

	limiterCtx, cancel := context.WithCancel(context.Background())
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:         handlers.NewAPI(manager, uploads, logger),
		Logger:      logger,
		RateLimiter: middleware.NewRateLimiter(limiterCtx, 20000, 20000),
	})

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		baseURL: server.URL,
		close: func() {
			server.Close()
			manager.Stop()
			cancel()
			_ = os.RemoveAll(dir)
		},
	}, nil
}

func sampleDocument(records int) []byte {
	if records <= 0 {
		records = 1
	}
	items := make([]map[string]any, 0, records)
	for i := 0; i < records; i++ {
		items = append(items, map[string]any{
			"id":     i + 1,
			"status": []string{"open", "paid", "shipped"}[i%3],
			"total":  float64(i%97) * 10.5,
			"customer": map[string]any{
				"name":  fmt.Sprintf("Customer %d", i%50),
				"email": fmt.Sprintf("customer%d@example.com", i%50),
				"address": map[string]any{
					"city":    []string{"Recife", "Natal", "Salvador"}[i%3],
					"country": "BR",
				},
			},
			"tags": []string{"load", fmt.Sprintf("batch-%d", i%10)},
		})
	}
	encoded, _ := json.Marshal(items)
	return encoded
}

func collectIDs(values *sync.Map) []string {
	ids := make([]string, 0)
	values.Range(func(_, value any) bool {
		ids = append(ids, value.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

type benchmarkClient struct {
	http    *http.Client
	baseURL string
	token   string
}

func (c *benchmarkClient) do(request *http.Request) (*http.Response, error) {
	request.Header.Set("Accept", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(request)
}

func (c *benchmarkClient) upload(name string, document []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(document); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	request, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/uploads", &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	var decoded struct {
		FileID string `json:"file_id"`
	}
	if err := c.expectJSON(request, http.StatusCreated, &decoded); err != nil {
		return "", err
	}
	return decoded.FileID, nil
}

func (c *benchmarkClient) createJob(fileID string, index int) (string, error) {
	payload := map[string]any{
		"file_id": fileID,
		"options": map[string]any{
			"sheet_name":     fmt.Sprintf("Load %d", index),
			"array_handling": []string{"expand", "join", "json"}[index%3],
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := c.expectJSON(request, http.StatusAccepted, &decoded); err != nil {
		return "", err
	}
	return decoded.JobID, nil
}

// convert creates a job, retrying while the queue is full, and waits for
// its workbook.
func (c *benchmarkClient) convert(fileID string, index int) error {
	var jobID string
	for attempt := 0; ; attempt++ {
		id, err := c.createJob(fileID, index)
		if err == nil {
			jobID = id
			break
		}
		if !errors.Is(err, errQueueFull) || attempt >= 100 {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		request, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/jobs/"+jobID+"/status", nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		var status struct {
			Status string `json:"status"`
		}
		if err := c.expectJSON(request, http.StatusOK, &status); err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			return c.get("/v1/jobs/"+jobID+"/download", http.StatusOK)
		case "failed":
			return fmt.Errorf("job %s failed", jobID)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("job %s did not finish in time", jobID)
}

func (c *benchmarkClient) get(path string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.expectJSON(request, expectedStatus, nil)
}

func (c *benchmarkClient) expectJSON(request *http.Request, expectedStatus int, target any) error {
	response, err := c.do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusServiceUnavailable {
		_, _ = io.Copy(io.Discard, response.Body)
		return errQueueFull
	}
	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	return json.NewDecoder(response.Body).Decode(target)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
