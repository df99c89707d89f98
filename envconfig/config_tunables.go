// config_tunables.go - Scheduler-, Stream- und Rate-Limit-Tunables
//
// Dieses Modul enthaelt die Stellschrauben der Serving-Pipeline:
// max_connections, request_timeout, max_batch_size, max_batch_wait,
// rate_limit_per_minute, graceful_shutdown_timeout, stream_buffer_size,
// stream_idle_timeout, sowie die Queue-Kapazitaet pro Prioritaet.
package envconfig

import "time"

var (
	// MaxConnections ist die maximale Anzahl gleichzeitig zugelassener
	// Verbindungen. Konfigurierbar via INFER_MAX_CONNECTIONS.
	MaxConnections = Int("INFER_MAX_CONNECTIONS", 256)

	// RequestTimeout ist das Wall-Clock-Limit pro Anfrage.
	// Konfigurierbar via INFER_REQUEST_TIMEOUT (Sekunden).
	RequestTimeout = DurationSeconds("INFER_REQUEST_TIMEOUT", 30*time.Second)

	// MaxBatchSize ist die maximale Anzahl Requests pro Batch.
	// Konfigurierbar via INFER_MAX_BATCH_SIZE.
	MaxBatchSize = Int("INFER_MAX_BATCH_SIZE", 32)

	// MaxBatchWait ist die Batch-Formations-Deadline.
	// Konfigurierbar via INFER_MAX_BATCH_WAIT_MS (Millisekunden).
	MaxBatchWait = func() time.Duration {
		ms := Int("INFER_MAX_BATCH_WAIT_MS", 50)
		return time.Duration(ms()) * time.Millisecond
	}

	// RateLimitPerMinute ist die Bucket-Kapazitaet pro Client und Minute.
	// Konfigurierbar via INFER_RATE_LIMIT_PER_MIN.
	RateLimitPerMinute = Int("INFER_RATE_LIMIT_PER_MIN", 10000)

	// GlobalRatePerSec ist die prozessweite Zulassungsrate vor den
	// Per-Caller-Buckets. Konfigurierbar via INFER_GLOBAL_RATE_PER_SEC;
	// 0 schaltet die Schranke ab.
	GlobalRatePerSec = Int("INFER_GLOBAL_RATE_PER_SEC", 1000)

	// GracefulShutdownTimeout ist das Drain-Budget beim Herunterfahren.
	// Konfigurierbar via INFER_GRACEFUL_SHUTDOWN_S (Sekunden).
	GracefulShutdownTimeout = DurationSeconds("INFER_GRACEFUL_SHUTDOWN_S", 30*time.Second)

	// StreamBufferSize ist die Kapazitaet des gepufferten Token-Streams.
	// Konfigurierbar via INFER_STREAM_BUFFER_SIZE.
	StreamBufferSize = Int("INFER_STREAM_BUFFER_SIZE", 100)

	// StreamIdleTimeout ist die Leerlaufzeit, nach der ein Stream
	// geschlossen wird. Konfigurierbar via INFER_STREAM_IDLE_TIMEOUT (Sekunden).
	StreamIdleTimeout = DurationSeconds("INFER_STREAM_IDLE_TIMEOUT", 60*time.Second)

	// MaxQueue ist die Kapazitaet jeder der drei Prioritaets-Warteschlangen.
	// Konfigurierbar via INFER_MAX_QUEUE.
	MaxQueue = Int("INFER_MAX_QUEUE", 1024)

	// RateLimiterIdleEvict ist die Leerlaufzeit, nach der ein Caller-Bucket
	// aus der Rate-Limiter-Map entfernt wird.
	RateLimiterIdleEvict = 10 * time.Minute

	// StreamPushWait ist die maximale Wartezeit eines Push bei vollem Puffer
	// bevor der Stream mit slow-consumer geschlossen wird.
	StreamPushWait = 1 * time.Second

	// StreamSweepInterval ist die Taktrate des Idle-Sweep-Hintergrundtasks.
	StreamSweepInterval = 10 * time.Second

	// MetricsWindowSize ist die Anzahl zuletzt abgeschlossener Requests,
	// die pro Model im Sliding-Window-Ringpuffer vorgehalten werden.
	MetricsWindowSize = 1000

	// HealthCheckInterval ist die Taktrate der periodischen
	// Health-Pruefung aller geladenen Modelle.
	HealthCheckInterval = 30 * time.Second
)
