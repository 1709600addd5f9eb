package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportPhaseDurationSeconds measures each phase of an import run
	ImportPhaseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkgraph_import_phase_duration_seconds",
			Help:    "Duration of bulk import phases",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"phase"},
	)

	// ImportRecordsTotal counts input records processed per phase
	ImportRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_import_records_total",
			Help: "Total number of input records processed by phase",
		},
		[]string{"phase"},
	)

	// ImportFailuresTotal counts aborted import runs by phase
	ImportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_import_failures_total",
			Help: "Total number of import runs aborted, by phase",
		},
		[]string{"phase"},
	)

	// RelationshipGroupsTotal counts relationship groups handed out for dense nodes
	RelationshipGroupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkgraph_relationship_groups_total",
			Help: "Total number of relationship groups allocated for dense nodes",
		},
	)

	// DenseNodes is the number of dense nodes found by the last counting phase
	DenseNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkgraph_dense_nodes",
			Help: "Number of dense nodes found when counting completed",
		},
	)

	// LabelSpillOverWordsTotal counts words written to the label spill-over array
	LabelSpillOverWordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkgraph_label_spillover_words_total",
			Help: "Total number of 64-bit words written to the label spill-over array",
		},
	)

	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// LogErrorsTotal counts error-level log entries specifically
	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkgraph_log_errors_total",
			Help: "Total number of error log entries",
		},
	)
)
