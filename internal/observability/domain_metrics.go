package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_questions_total",
			Help: "Total number of questions submitted for answering.",
		},
	)
	answersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_answers_total",
			Help: "Total number of terminal answers by outcome.",
		},
		[]string{"outcome"},
	)
	refusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_refusals_total",
			Help: "Total number of refusals by reason.",
		},
		[]string{"reason"},
	)
	repairCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_repair_cycles_total",
			Help: "Total number of model-assisted query repair cycles.",
		},
	)
	completionTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_model_tokens_total",
			Help: "Total model tokens consumed, by token kind.",
		},
		[]string{"kind"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_seconds",
			Help:    "SQL execution latency against the dataset.",
			Buckets: prometheus.DefBuckets,
		},
	)
	answerDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_answer_duration_seconds",
			Help:    "End-to-end latency per answered question.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		answersTotal,
		refusalsTotal,
		repairCyclesTotal,
		completionTokensTotal,
		queryDurationSeconds,
		answerDurationSeconds,
	)
}

func ObserveQuestion() {
	questionsTotal.Inc()
}

func ObserveAnswer(outcome string, elapsed time.Duration) {
	answersTotal.WithLabelValues(outcome).Inc()
	answerDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveRefusal(reason string) {
	refusalsTotal.WithLabelValues(reason).Inc()
}

func ObserveRepairCycle() {
	repairCyclesTotal.Inc()
}

func ObserveModelTokens(promptTokens, completionTokens int) {
	if promptTokens > 0 {
		completionTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		completionTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}
