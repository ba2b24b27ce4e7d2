package main

import (
	"bufio"
	"context"
	"errors"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"

	"pdfpress/internal/auth"
	"pdfpress/internal/compress"
	"pdfpress/internal/handler"
	"pdfpress/internal/ledger"
	"pdfpress/internal/pdf"
	"pdfpress/internal/pipeline"
)

const (
	defaultPort        = "8080"
	defaultUploadMB    = 10
	defaultOutputMB    = 1.0
	defaultMaxEdge     = 2000
	defaultRenderScale = 2.0
	shutdownTimeout    = 10 * time.Second
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.LUTC)

	if err := loadEnvFile(".env", logger); err != nil {
		logger.Fatalf("ERROR: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	apiKeys := parseKeys(os.Getenv("API_KEYS"))
	if len(apiKeys) == 0 {
		logger.Println("WARN: API_KEYS not set, /convert is unauthenticated")
	}
	adminKeys := parseKeys(os.Getenv("ADMIN_KEYS"))

	uploadMB := envInt("MAX_UPLOAD_MB", defaultUploadMB, logger)
	outputMB := envFloat("MAX_OUTPUT_MB", defaultOutputMB, logger)
	maxEdge := envInt("MAX_DIMENSION", defaultMaxEdge, logger)
	scale := envFloat("RENDER_SCALE", defaultRenderScale, logger)
	bestEffort := envBool("BEST_EFFORT", true, logger)
	cacheResults := envBool("CACHE_RESULTS", true, logger)
	background := envBool("BACKGROUND_COMPRESSION", true, logger)

	rasterizer := pdf.NewRasterizer(nil)
	compressor := compress.New(compress.Config{})
	pipe := pipeline.New(rasterizer, compressor, pipeline.Config{
		Scale: scale,
		Constraints: compress.Constraints{
			MaxSizeMB:        outputMB,
			MaxWidthOrHeight: int(maxEdge),
			AllowBackground:  background,
		},
		BestEffort: bestEffort,
		OnProgress: func(percent int) {
			logger.Printf("INFO: compression progress=%d%%", percent)
		},
	})

	var history ledger.Repository
	if projectID := os.Getenv("FIRESTORE_PROJECT_ID"); projectID != "" {
		client, err := firestore.NewClient(context.Background(), projectID)
		if err != nil {
			logger.Fatalf("ERROR: firestore client: %v", err)
		}
		defer client.Close()
		history = ledger.NewFirestoreRepository(client, os.Getenv("FIRESTORE_COLLECTION"))
		logger.Printf("INFO: conversion ledger enabled project=%s", projectID)
	} else {
		logger.Println("INFO: FIRESTORE_PROJECT_ID not set, conversion ledger disabled")
	}

	convertHandler := handler.NewConvertHandler(handler.ConvertConfig{
		Converter:    pipe,
		Logger:       logger,
		MaxFileSize:  megabytesToBytes(uploadMB),
		CacheResults: cacheResults,
		Ledger:       history,
	})

	mux := http.NewServeMux()
	mux.Handle("/convert", auth.APIKeyMiddleware(apiKeys, logger)(convertHandler))
	if history != nil && len(adminKeys) > 0 {
		adminMux := http.NewServeMux()
		handler.NewHistoryHandler(history, logger).Register(adminMux)
		mux.Handle("/admin/", auth.AdminMiddleware(auth.AdminConfig{
			MasterKeys: adminKeys,
			Logger:     logger,
		})(adminMux))
	}
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    ":" + port,
		Handler: loggingMiddleware(logger)(mux),
	}

	logger.Printf("INFO: starting server on port %s", port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Println("INFO: shutdown signal received")
	case err := <-errCh:
		logger.Fatalf("ERROR: server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("ERROR: graceful shutdown failed: %v", err)
	} else {
		logger.Println("INFO: server stopped gracefully")
	}
}

func parseKeys(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	var keys []string

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}

	return keys
}

func envInt(name string, fallback int64, logger *log.Logger) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		logger.Printf("WARN: invalid %s=%q, using %d", name, raw, fallback)
		return fallback
	}
	return parsed
}

func envFloat(name string, fallback float64, logger *log.Logger) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		logger.Printf("WARN: invalid %s=%q, using %v", name, raw, fallback)
		return fallback
	}
	return parsed
}

func envBool(name string, fallback bool, logger *log.Logger) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Printf("WARN: invalid %s=%q, using %v", name, raw, fallback)
		return fallback
	}
	return parsed
}

func megabytesToBytes(mb int64) int64 {
	return mb * 1024 * 1024
}

func loggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)
			logger.Printf("INFO: method=%s path=%s status=%d duration=%s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

func loadEnvFile(path string, logger *log.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Printf("INFO: env file %s not found, skipping", path)
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			logger.Printf("WARN: skipping malformed env line %d in %s", lineNum, path)
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set env %q from %s: %w", key, path, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	logger.Printf("INFO: loaded environment from %s", path)
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
