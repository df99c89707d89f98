// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - Float64/DurationSeconds: Float/Duration-Getter
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// StringWithDefault gibt eine Funktion zurueck, die einen String mit Default liest
func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// Int gibt eine Funktion zurueck, die einen int mit Default-Wert liest
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return int(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Float/Duration-Getter
// =============================================================================

// Float64 gibt eine Funktion zurueck, die einen float64 mit Default-Wert liest
func Float64(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return f
			}
		}
		return defaultValue
	}
}

// DurationSeconds gibt eine Funktion zurueck, die eine Dauer aus einer
// Sekunden-Fliesskommazahl mit Default-Wert liest
func DurationSeconds(key string, defaultValue time.Duration) func() time.Duration {
	f := Float64(key, defaultValue.Seconds())
	return func() time.Duration {
		return time.Duration(f() * float64(time.Second))
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"INFER_DEBUG":               {"INFER_DEBUG", LogLevel(), "Show additional debug information (e.g. INFER_DEBUG=1)"},
		"INFER_HOST":                {"INFER_HOST", Host(), "Bind address for the inference server (default 127.0.0.1:8080)"},
		"INFER_ORIGINS":             {"INFER_ORIGINS", AllowedOrigins(), "A comma separated list of allowed CORS origins"},
		"INFER_MAX_CONNECTIONS":     {"INFER_MAX_CONNECTIONS", MaxConnections(), "Maximum number of concurrently admitted connections"},
		"INFER_REQUEST_TIMEOUT":     {"INFER_REQUEST_TIMEOUT", RequestTimeout(), "Per-request wall clock limit in seconds"},
		"INFER_MAX_BATCH_SIZE":      {"INFER_MAX_BATCH_SIZE", MaxBatchSize(), "Maximum number of requests per batch"},
		"INFER_MAX_BATCH_WAIT_MS":   {"INFER_MAX_BATCH_WAIT_MS", MaxBatchWait(), "Scheduler batch-formation deadline in milliseconds"},
		"INFER_RATE_LIMIT_PER_MIN":  {"INFER_RATE_LIMIT_PER_MIN", RateLimitPerMinute(), "Per-client token bucket capacity per minute"},
		"INFER_GLOBAL_RATE_PER_SEC": {"INFER_GLOBAL_RATE_PER_SEC", GlobalRatePerSec(), "Process-wide admission rate per second (0 disables)"},
		"INFER_GRACEFUL_SHUTDOWN_S": {"INFER_GRACEFUL_SHUTDOWN_S", GracefulShutdownTimeout(), "Graceful shutdown drain budget in seconds"},
		"INFER_STREAM_BUFFER_SIZE":  {"INFER_STREAM_BUFFER_SIZE", StreamBufferSize(), "Per-stream bounded buffer capacity in tokens"},
		"INFER_STREAM_IDLE_TIMEOUT": {"INFER_STREAM_IDLE_TIMEOUT", StreamIdleTimeout(), "Stream idle timeout in seconds"},
		"INFER_MAX_QUEUE":           {"INFER_MAX_QUEUE", MaxQueue(), "Per-priority scheduler queue capacity"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
