package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/streampulse-analytics-platform/internal/models"
)

var (
	ingestURL = flag.String("ingest-url", "http://localhost:8080/api/v1/events/ingest", "Ingest API URL")
	batches   = flag.Int("batches", 10, "Number of batches to send")
	batchSize = flag.Int("batch-size", 100, "Events per batch")
	interval  = flag.Duration("interval", 100*time.Millisecond, "Pause between batches")
	eventType = flag.String("type", "sensor_reading", "Event type to generate")
	baseValue = flag.Float64("base", 10.0, "Base value for generated events")
	spike     = flag.Bool("spike", false, "Inject one anomalous spike into the final batch")
)

type ingestResponse struct {
	Success          bool    `json:"success"`
	Ingested         int     `json:"ingested"`
	Total            int     `json:"total"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	BatchID          string  `json:"batch_id"`
}

func main() {
	flag.Parse()

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Printf("StreamPulse load generator\n")
	fmt.Printf("Target: %s (%d batches x %d events)\n\n", *ingestURL, *batches, *batchSize)

	client := &http.Client{Timeout: 10 * time.Second}
	runID := uuid.New().String()

	var sent, accepted int
	start := time.Now()

	for b := 0; b < *batches; b++ {
		events := make([]models.Event, *batchSize)
		for i := range events {
			// Small jitter keeps the detector's window non-degenerate.
			value := *baseValue + rand.Float64()
			events[i] = models.Event{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Type:      *eventType,
				Value:     value,
				Metadata:  map[string]string{"run_id": runID},
			}
		}

		if *spike && b == *batches-1 {
			events[len(events)-1].Value = *baseValue * 100
			yellow.Printf("Injecting anomalous spike: value=%g\n", events[len(events)-1].Value)
		}

		resp, err := postBatch(client, events)
		if err != nil {
			color.Red("Batch %d failed: %v\n", b+1, err)
			continue
		}

		sent += *batchSize
		accepted += resp.Ingested
		fmt.Printf("Batch %d/%d: ingested %d/%d in %.2fms (%s)\n",
			b+1, *batches, resp.Ingested, resp.Total, resp.ProcessingTimeMs, resp.BatchID)

		time.Sleep(*interval)
	}

	elapsed := time.Since(start).Seconds()
	fmt.Println()
	green.Printf("Done: %d/%d events accepted in %.2fs", accepted, sent, elapsed)
	if elapsed > 0 {
		green.Printf(" (%.0f events/s)", float64(accepted)/elapsed)
	}
	fmt.Println()
}

func postBatch(client *http.Client, events []models.Event) (*ingestResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	resp, err := client.Post(*ingestURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("server rejected batch (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("server rejected batch (status %d)", resp.StatusCode)
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
