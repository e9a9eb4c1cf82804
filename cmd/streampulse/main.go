package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streampulse-analytics-platform/config"
	"github.com/streampulse-analytics-platform/internal/ingest"
	"github.com/streampulse-analytics-platform/internal/metrics"
	"github.com/streampulse-analytics-platform/internal/models"
	"github.com/streampulse-analytics-platform/internal/server"
	"github.com/streampulse-analytics-platform/internal/stream"
	"github.com/streampulse-analytics-platform/internal/tracing"
	"github.com/streampulse-analytics-platform/internal/websocket"
	"github.com/streampulse-analytics-platform/internal/worker"
)

var (
	port        = flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	logURL      = flag.String("log-url", "", "Log service URL (overrides LOG_SERVICE_URL)")
	tlsCertFile = flag.String("tls-cert", "", "TLS certificate file (enables HTTPS)")
	tlsKeyFile  = flag.String("tls-key", "", "TLS key file")
)

// app bundles the wired components; handlers receive it explicitly instead
// of reaching for package globals.
type app struct {
	cfg       *config.Config
	logClient *stream.RedisLog
	collector *metrics.Collector
	ingestor  *ingest.Ingestor
	pool      *worker.Pool
	hub       *websocket.Hub
	startedAt time.Time
}

func main() {
	flag.Parse()

	cfg := config.Load()
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *logURL != "" {
		cfg.Log.URL = *logURL
	}

	shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logClient, err := stream.Connect(ctx, cfg.Log.URL)
	if err != nil {
		log.Fatalf("Failed to connect to log service: %v", err)
	}
	defer logClient.Close()

	collector := metrics.NewCollector(cfg.Processing.ThroughputTarget, cfg.Processing.LatencyTargetP95)
	ingestor := ingest.NewIngestor(logClient, collector, cfg.Processing.MaxBatchSize)
	hub := websocket.NewHub(logClient, collector, cfg.Processing.ThroughputTarget)

	pool := worker.NewPool(worker.Config{
		WorkerCount:  cfg.Processing.WorkerCount,
		MaxBatch:     int64(cfg.Processing.MaxBatchSize),
		BlockTimeout: cfg.Log.BlockTimeout,
		MaxRetries:   cfg.DLQ.MaxRetries,
		BackoffBase:  cfg.DLQ.BackoffBase,
		DLQEnabled:   cfg.DLQ.Enabled,
	}, logClient, collector, hub)

	go hub.Run(ctx)
	pool.Start(ctx)

	a := &app{
		cfg:       cfg,
		logClient: logClient,
		collector: collector,
		ingestor:  ingestor,
		pool:      pool,
		hub:       hub,
		startedAt: time.Now(),
	}

	router := a.routes()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	handler := otelhttp.NewHandler(corsHandler, "streampulse-api")

	srv := server.New(
		fmt.Sprintf(":%d", cfg.HTTP.Port),
		handler,
		cfg.HTTP.ReadTimeout,
		cfg.HTTP.WriteTimeout,
		&server.TLSConfig{
			Enabled:  *tlsCertFile != "",
			CertFile: *tlsCertFile,
			KeyFile:  *tlsKeyFile,
		},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	pool.Stop()
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

func (a *app) routes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events/ingest", a.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/events/ingest/single", a.handleIngestSingle).Methods(http.MethodPost)
	api.HandleFunc("/metrics", a.handleMetricsSummary).Methods(http.MethodGet)
	api.HandleFunc("/worker/stats", a.handleWorkerStats).Methods(http.MethodGet)
	api.HandleFunc("/worker/start", a.handleWorkerStart).Methods(http.MethodPost)
	api.HandleFunc("/worker/stop", a.handleWorkerStop).Methods(http.MethodPost)
	api.HandleFunc("/dlq/events", a.handleDLQList).Methods(http.MethodGet)
	api.HandleFunc("/dlq/{id}/retry", a.handleDLQRetry).Methods(http.MethodPost)
	api.HandleFunc("/streams/info", a.handleStreamInfo).Methods(http.MethodGet)

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.Handle(a.cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/ws", websocket.NewHandler(a.hub))

	return router
}

type ingestRequest struct {
	Events []models.Event `json:"events"`
}

type ingestResponse struct {
	Success          bool    `json:"success"`
	Ingested         int     `json:"ingested"`
	Total            int     `json:"total"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	BatchID          string  `json:"batch_id"`
}

func (a *app) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "At least one event is required")
		return
	}

	tracing.AddAttributes(r.Context(), attribute.Int("ingest.batch_size", len(req.Events)))

	ingested, err := a.ingestor.IngestBatch(r.Context(), req.Events)
	if err != nil {
		if errors.Is(err, ingest.ErrBatchTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Ingestion failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:          true,
		Ingested:         ingested,
		Total:            len(req.Events),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		BatchID:          "batch_" + uuid.New().String(),
	})
}

func (a *app) handleIngestSingle(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation failed: %v", err))
		return
	}

	ingested, err := a.ingestor.IngestBatch(r.Context(), []models.Event{event})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Ingestion failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"ingested": ingested,
	})
}

func (a *app) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.collector.Summary())
}

func (a *app) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pool.Stats())
}

func (a *app) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	if a.pool.Running() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Worker already running"})
		return
	}
	a.pool.Start(context.Background())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Worker started"})
}

func (a *app) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	a.pool.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Worker stopped"})
}

func (a *app) handleDLQList(w http.ResponseWriter, r *http.Request) {
	limit := worker.DefaultDLQListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := a.pool.DLQEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve DLQ events: %v", err))
		return
	}

	events := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		events = append(events, map[string]interface{}{
			"id":   entry.ID,
			"data": entry.Fields,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

func (a *app) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["id"]

	found, err := a.pool.RetryDLQEvent(r.Context(), entryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retry event: %v", err))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Event %s not found in DLQ", entryID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Event %s retried successfully", entryID),
	})
}

func (a *app) handleStreamInfo(w http.ResponseWriter, r *http.Request) {
	streams := make(map[string]interface{}, 3)
	for _, name := range []string{stream.EventsStream, stream.ProcessedStream, stream.DLQStream} {
		info, err := a.logClient.StreamInfo(r.Context(), name)
		if err != nil {
			streams[name] = map[string]interface{}{"error": "Stream not found"}
			continue
		}
		streams[name] = map[string]interface{}{
			"length":      info.Length,
			"groups":      info.Groups,
			"first_entry": info.FirstEntry,
			"last_entry":  info.LastEntry,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": streams})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if _, err := a.logClient.StreamInfo(r.Context(), stream.EventsStream); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": time.Since(a.startedAt).Seconds(),
		"worker_running": a.pool.Running(),
		"connections":    a.hub.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
