package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ProbeBuckets for single HEAD requests against object storage
	ProbeBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// SplitBuckets for font engine invocations (large CJK fonts take minutes)
	SplitBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	// StepBuckets for whole pipeline steps
	StepBuckets = []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}
)

// Publish metrics
var (
	// AssetsTotal counts processed assets by outcome (published, skipped, failed)
	AssetsTotal CounterVec = noopVec[Counter](noop{})

	// ProbeSeconds measures existence probe latency
	ProbeSeconds Histogram = noop{}

	// ProbeErrorsTotal counts probes that failed for reasons other than absence
	ProbeErrorsTotal Counter = noop{}

	// SplitSeconds measures font engine latency
	SplitSeconds Histogram = noop{}
)

// Storage metrics
var (
	// UploadBytesTotal counts bytes written by the upload step
	UploadBytesTotal Counter = noop{}

	// UploadObjectsTotal counts uploaded objects by result (success, failed)
	UploadObjectsTotal CounterVec = noopVec[Counter](noop{})

	// PurgedObjectsTotal counts objects removed by purge
	PurgedObjectsTotal Counter = noop{}

	// IndexEntries tracks directives in the last built index by variant (latest, full)
	IndexEntries GaugeVec = noopVec[Gauge](noop{})
)

// Pipeline metrics
var (
	// StepSeconds measures pipeline step duration by step and result
	StepSeconds HistogramVec = noopVec[Histogram](noop{})

	// LastRunPublished tracks the number of assets published by the last run
	LastRunPublished Gauge = noop{}

	// AnnouncementsTotal counts release announcements by sink and result
	AnnouncementsTotal CounterVec = noopVec[Counter](noop{})
)

// InitMetrics registers every metric. The registry must exist.
func InitMetrics() {
	AssetsTotal = counterVec("assets_total", "Processed font assets by outcome", "outcome")
	ProbeSeconds = histogram("probe_seconds", "Existence probe duration in seconds", ProbeBuckets)
	ProbeErrorsTotal = counter("probe_errors_total", "Existence probes that failed with an error other than not found")
	SplitSeconds = histogram("split_seconds", "Font engine duration in seconds", SplitBuckets)

	UploadBytesTotal = counter("upload_bytes_total", "Bytes uploaded to object storage")
	UploadObjectsTotal = counterVec("upload_objects_total", "Uploaded objects by result", "result")
	PurgedObjectsTotal = counter("purged_objects_total", "Objects deleted by purge")
	IndexEntries = gaugeVec("index_entries", "Import directives in the last built index", "variant")

	StepSeconds = histogramVec("step_seconds", "Pipeline step duration in seconds", StepBuckets, "step", "result")
	LastRunPublished = gauge("last_run_published", "Assets published by the last run")
	AnnouncementsTotal = counterVec("announcements_total", "Release announcements by sink and result", "sink", "result")
}
