package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_chat_tasks_total",
			Help: "Total number of prompt tasks by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	chatTaskDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlchat_chat_task_duration_ms",
			Help:    "Prompt task latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"mode"},
	)
	chatStreamDeltasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_chat_stream_deltas_total",
			Help: "Total number of streamed content deltas appended to assistant messages.",
		},
	)
	sqlClassifierVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_sql_classifier_verdicts_total",
			Help: "Contains-SQL classifier results.",
		},
		[]string{"verdict"},
	)
	queryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_query_runs_total",
			Help: "Total number of generated queries executed by outcome.",
		},
		[]string{"outcome"},
	)
	queryRunDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_query_run_duration_ms",
			Help:    "Generated query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_feedback_total",
			Help: "Total number of like/dislike reactions.",
		},
		[]string{"reaction"},
	)
	vectorUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_vector_upserts_total",
			Help: "Total number of points upserted into vector collections.",
		},
		[]string{"collection"},
	)
	chatSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlchat_chat_sessions",
			Help: "Chat sessions held in memory.",
		},
	)
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlchat_active_streams",
			Help: "Currently open websocket chat streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatTasksTotal,
		chatTaskDurationMs,
		chatStreamDeltasTotal,
		sqlClassifierVerdictsTotal,
		queryRunsTotal,
		queryRunDurationMs,
		feedbackTotal,
		vectorUpsertsTotal,
		chatSessions,
		activeStreams,
	)
}

func ObserveChatTask(mode string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	chatTasksTotal.WithLabelValues(mode, outcome).Inc()
	chatTaskDurationMs.WithLabelValues(mode).Observe(float64(elapsed.Milliseconds()))
}

func IncrementStreamDeltas() {
	chatStreamDeltasTotal.Inc()
}

func ObserveSQLVerdict(containsSQL bool, err error) {
	switch {
	case err != nil:
		sqlClassifierVerdictsTotal.WithLabelValues("error").Inc()
	case containsSQL:
		sqlClassifierVerdictsTotal.WithLabelValues("sql").Inc()
	default:
		sqlClassifierVerdictsTotal.WithLabelValues("text").Inc()
	}
}

func ObserveQueryRun(err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queryRunsTotal.WithLabelValues(outcome).Inc()
	queryRunDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementFeedback(reaction string) {
	feedbackTotal.WithLabelValues(reaction).Inc()
}

func AddVectorUpserts(collection string, count int) {
	if count <= 0 {
		return
	}
	vectorUpsertsTotal.WithLabelValues(collection).Add(float64(count))
}

func SetChatSessions(count int) {
	chatSessions.Set(float64(count))
}

func StreamOpened() {
	activeStreams.Inc()
}

func StreamClosed() {
	activeStreams.Dec()
}
