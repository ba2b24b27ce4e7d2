package handler

import (
	"expvar"
	"fmt"
	"sync"

	"pdfpress/internal/ledger"
)

// metricsRecorder centralises counter updates so the handler stays testable.
type metricsRecorder interface {
	IncConversion(outcome ledger.Outcome)
	IncCacheHit()
	AddBytesSaved(n int64)
}

type expvarMetrics struct {
	conversionMap *expvar.Map
	cacheHits     *expvar.Int
	bytesSaved    *expvar.Int
	mu            sync.Mutex
}

func newExpvarMetrics() *expvarMetrics {
	return &expvarMetrics{
		conversionMap: ensureExpvarMap("conversions_total"),
		cacheHits:     ensureExpvarInt("result_cache_hits_total"),
		bytesSaved:    ensureExpvarInt("conversion_bytes_saved_total"),
	}
}

func (m *expvarMetrics) IncConversion(outcome ledger.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf(`{"outcome":"%s"}`, outcome)
	getExpvarInt(m.conversionMap, key).Add(1)
}

func (m *expvarMetrics) IncCacheHit() {
	m.cacheHits.Add(1)
}

func (m *expvarMetrics) AddBytesSaved(n int64) {
	if n > 0 {
		m.bytesSaved.Add(n)
	}
}

func getExpvarInt(m *expvar.Map, key string) *expvar.Int {
	if existing := m.Get(key); existing != nil {
		if intVar, ok := existing.(*expvar.Int); ok {
			return intVar
		}
	}
	intVar := new(expvar.Int)
	m.Set(key, intVar)
	return intVar
}

func ensureExpvarMap(name string) *expvar.Map {
	if existing := expvar.Get(name); existing != nil {
		if m, ok := existing.(*expvar.Map); ok {
			return m
		}
	}
	return expvar.NewMap(name)
}

func ensureExpvarInt(name string) *expvar.Int {
	if existing := expvar.Get(name); existing != nil {
		if v, ok := existing.(*expvar.Int); ok {
			return v
		}
	}
	return expvar.NewInt(name)
}
