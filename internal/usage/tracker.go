package usage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const oneMillion = 1_000_000

// Info is the token accounting for one completion call, as reported by the
// model service. CachedTokens counts prompt tokens served from the
// provider-side prompt cache.
type Info struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
}

// Record is the stored per-call usage report.
type Record struct {
	PromptTokens         int     `json:"prompt_tokens"`
	CompletionTokens     int     `json:"completion_tokens"`
	TotalTokens          int     `json:"total_tokens"`
	PromptCostUSD        float64 `json:"prompt_cost_usd"`
	CompletionCostUSD    float64 `json:"completion_cost_usd"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	AzureCachedTokens    int     `json:"azure_cached_tokens"`
	AzureCachedCostSaved float64 `json:"azure_cached_cost_saved"`
}

// CacheRecord tracks the provider-side prompt-cache discount for one call.
// Azure bills cached prompt tokens at 50% of the input rate.
type CacheRecord struct {
	CachedTokens     int     `json:"cached_tokens"`
	CachedPercentage float64 `json:"cached_percentage"`
	CostSaved        float64 `json:"cost_saved"`
}

type Pricing struct {
	InputCostPer1MTokens  float64 `json:"input_cost_per_1m_tokens"`
	OutputCostPer1MTokens float64 `json:"output_cost_per_1m_tokens"`
}

type Summary struct {
	PromptTokens         int     `json:"prompt_tokens"`
	CompletionTokens     int     `json:"completion_tokens"`
	TotalTokens          int     `json:"total_tokens"`
	PromptCostUSD        float64 `json:"prompt_cost_usd"`
	CompletionCostUSD    float64 `json:"completion_cost_usd"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	ItemsProcessed       int     `json:"items_processed"`
	AzureCachedItems     int     `json:"azure_cached_items"`
	AzureCachedTokens    int     `json:"azure_cached_tokens"`
	AzureCachedCostSaved float64 `json:"azure_cached_cost_saved"`
}

// Report is the persisted usage artifact.
type Report struct {
	Model       string                 `json:"model"`
	Pricing     Pricing                `json:"pricing"`
	Summary     Summary                `json:"summary"`
	Details     map[string]Record      `json:"details"`
	AzureCached map[string]CacheRecord `json:"azure_cached"`
}

// Tracker accumulates per-call token and cost statistics. It is the one
// component designed for concurrent use: a single mutex guards both maps,
// held only for the read-modify-write section, never across I/O.
type Tracker struct {
	modelName       string
	inputCostPer1M  float64
	outputCostPer1M float64
	logger          *slog.Logger

	mu     sync.Mutex
	stats  map[string]Record
	cached map[string]CacheRecord
}

func NewTracker(modelName string, inputCostPer1M, outputCostPer1M float64, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		modelName:       modelName,
		inputCostPer1M:  inputCostPer1M,
		outputCostPer1M: outputCostPer1M,
		logger:          logger,
		stats:           make(map[string]Record),
		cached:          make(map[string]CacheRecord),
	}
}

// RecordUsage stores the usage report for one completion call under itemID,
// overwriting any prior record for the same id.
func (t *Tracker) RecordUsage(itemID string, info Info) Record {
	promptCost := float64(info.PromptTokens) / oneMillion * t.inputCostPer1M
	completionCost := float64(info.CompletionTokens) / oneMillion * t.outputCostPer1M

	record := Record{
		PromptTokens:      info.PromptTokens,
		CompletionTokens:  info.CompletionTokens,
		TotalTokens:       info.TotalTokens,
		PromptCostUSD:     promptCost,
		CompletionCostUSD: completionCost,
		TotalCostUSD:      promptCost + completionCost,
	}

	var cacheRecord CacheRecord
	if info.CachedTokens > 0 {
		record.AzureCachedTokens = info.CachedTokens
		record.AzureCachedCostSaved = float64(info.CachedTokens) / oneMillion * t.inputCostPer1M * 0.5
		cacheRecord = CacheRecord{
			CachedTokens: info.CachedTokens,
			CostSaved:    record.AzureCachedCostSaved,
		}
		if info.PromptTokens > 0 {
			cacheRecord.CachedPercentage = float64(info.CachedTokens) / float64(info.PromptTokens) * 100
		}
	}

	t.mu.Lock()
	t.stats[itemID] = record
	if info.CachedTokens > 0 {
		t.cached[itemID] = cacheRecord
	}
	t.mu.Unlock()

	if info.CachedTokens > 0 {
		t.logger.Info("prompt cache hit",
			slog.String("item", itemID),
			slog.Int("cached_tokens", info.CachedTokens),
			slog.Float64("cost_saved_usd", record.AzureCachedCostSaved),
		)
	}
	t.logger.Debug("recorded usage",
		slog.String("item", itemID),
		slog.Int("total_tokens", record.TotalTokens),
		slog.Float64("total_cost_usd", record.TotalCostUSD),
	)
	return record
}

// MergeStats aggregates all recorded stats into a report. The lock is held
// only long enough to snapshot both maps; the sums are computed outside it,
// so the result is a consistent point-in-time view even with concurrent
// RecordUsage calls. It never mutates stored records.
func (t *Tracker) MergeStats() Report {
	t.mu.Lock()
	statsCopy := make(map[string]Record, len(t.stats))
	for id, record := range t.stats {
		statsCopy[id] = record
	}
	cachedCopy := make(map[string]CacheRecord, len(t.cached))
	for id, record := range t.cached {
		cachedCopy[id] = record
	}
	t.mu.Unlock()

	summary := Summary{
		ItemsProcessed:   len(statsCopy),
		AzureCachedItems: len(cachedCopy),
	}
	for _, record := range statsCopy {
		summary.PromptTokens += record.PromptTokens
		summary.CompletionTokens += record.CompletionTokens
		summary.TotalTokens += record.TotalTokens
		summary.PromptCostUSD += record.PromptCostUSD
		summary.CompletionCostUSD += record.CompletionCostUSD
		summary.TotalCostUSD += record.TotalCostUSD
	}
	for _, record := range cachedCopy {
		summary.AzureCachedTokens += record.CachedTokens
		summary.AzureCachedCostSaved += record.CostSaved
	}

	return Report{
		Model: t.modelName,
		Pricing: Pricing{
			InputCostPer1MTokens:  t.inputCostPer1M,
			OutputCostPer1MTokens: t.outputCostPer1M,
		},
		Summary:     summary,
		Details:     statsCopy,
		AzureCached: cachedCopy,
	}
}

// WriteReport writes the JSON usage report to w.
func (t *Tracker) WriteReport(w io.Writer) error {
	report := t.MergeStats()
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode usage report: %w", err)
	}
	return nil
}

// SaveReport writes the JSON usage report to path and logs a summary.
func (t *Tracker) SaveReport(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create usage report %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := t.WriteReport(file); err != nil {
		return err
	}
	t.logger.Info("saved usage report", slog.String("path", path))
	t.LogSummary()
	return nil
}

// LogSummary logs the aggregated usage statistics. Read-only.
func (t *Tracker) LogSummary() {
	summary := t.MergeStats().Summary
	t.logger.Info("model usage summary",
		slog.String("model", t.modelName),
		slog.Int("items_processed", summary.ItemsProcessed),
		slog.Int("total_tokens", summary.TotalTokens),
		slog.Int("prompt_tokens", summary.PromptTokens),
		slog.Int("completion_tokens", summary.CompletionTokens),
		slog.Float64("total_cost_usd", summary.TotalCostUSD),
	)
	if summary.AzureCachedTokens > 0 {
		cacheRate := 0.0
		if summary.PromptTokens > 0 {
			cacheRate = float64(summary.AzureCachedTokens) / float64(summary.PromptTokens) * 100
		}
		t.logger.Info("prompt caching summary",
			slog.Int("cached_items", summary.AzureCachedItems),
			slog.Int("cached_tokens", summary.AzureCachedTokens),
			slog.Float64("cost_saved_usd", summary.AzureCachedCostSaved),
			slog.Float64("cache_rate_percent", cacheRate),
		)
	}
}
