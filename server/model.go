// model.go - Model-Kapazitaet und zugehoerige Typen
//
// Definiert die Schnittstelle, die ein pluggable Model implementieren muss,
// sowie die Typen, unter denen die Registry ein geladenes Model fuehrt.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StreamToken ist ein einzelnes vom Model erzeugtes Token. Einmal erzeugt
// ist es unveraenderlich.
type StreamToken struct {
	Token   string
	TokenID int
	Logprob *float64
	Special bool
	End     bool
}

// Model ist die Kapazitaet, die ein pluggable Model bereitstellen muss.
// generate produziert Tokens fuer einen einzelnen Batch von Prompts in
// Dequeue-Reihenfolge; es liefert sie inkrementell ueber den
// Callback-Kanal, sodass der Runner sie fan-out-en kann sobald sie
// entstehen. Das Model entscheidet selbst ueber sein Tensor-Packing -
// der Server reicht nur die Prompt-Liste durch.
type Model interface {
	// Generate erzeugt Tokens fuer jeden Prompt im Batch. Jedes erzeugte
	// Token wird ueber emit an den Aufrufer gereicht, zusammen mit dem
	// Index des Prompts im urspruenglichen batch-Slice, zu dem es
	// gehoert. Generate kehrt zurueck, wenn alle Prompts ihr
	// End-of-Stream-Token erzeugt haben oder ctx abgebrochen wird.
	Generate(ctx context.Context, prompts []GenerateInput, emit func(promptIndex int, tok StreamToken)) error

	// HealthCheck ist optional und nicht Teil dieses Interfaces: ein
	// Model, das es unterstuetzt, implementiert zusaetzlich
	// HealthCheckable.
}

// GenerateInput ist ein einzelner Prompt innerhalb eines Batches, so wie
// ihn das Model sieht.
type GenerateInput struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// HealthCheckable ist eine optionale Erweiterung von Model.
type HealthCheckable interface {
	HealthCheck(ctx context.Context) bool
}

// Cleanable ist eine optionale Erweiterung von Model, die beim letzten
// Unload-Release aufgerufen wird.
type Cleanable interface {
	Cleanup()
}

// ModelConfig beschreibt, wie ein Model geladen werden soll. Zwei
// ModelConfigs mit identischem (Name, Version) gelten als gleich.
type ModelConfig struct {
	Name         string
	Version      string // semver, zur Ordnung verwendet
	LoadPath     string
	DeviceHint   string
	Precision    string
	MaxSeqLength int
	WarmupTokens int
	Metadata     map[string]string
}

// Equal vergleicht zwei ModelConfigs anhand von (Name, Version).
func (c ModelConfig) Equal(other ModelConfig) bool {
	return c.Name == other.Name && c.Version == other.Version
}

// LoaderFunc materialisiert ein Model aus einer ModelConfig.
type LoaderFunc func(ctx context.Context, cfg ModelConfig) (Model, error)

// LoadedModel ist das Bundle, das die Registry fuer jede geladene
// (Name, Version) haelt.
type LoadedModel struct {
	Config ModelConfig
	Handle Model

	LoadedAt     time.Time
	lastHealthOK atomic.Int64 // unix nano
	healthy      atomic.Bool

	// Zaehler, atomar aktualisiert vom Runner.
	Requests atomic.Int64
	Errors   atomic.Int64
	Tokens   atomic.Int64

	mu       sync.Mutex
	refCount int
	cleanup  func() // gesetzt beim Unload, laeuft wenn die letzte Referenz faellt
}

func newLoadedModel(cfg ModelConfig, handle Model) *LoadedModel {
	lm := &LoadedModel{Config: cfg, Handle: handle, LoadedAt: time.Now()}
	lm.lastHealthOK.Store(time.Now().UnixNano())
	lm.healthy.Store(true)
	return lm
}

// LastHealthOK gibt den Zeitpunkt der letzten erfolgreichen Health-Pruefung zurueck.
func (lm *LoadedModel) LastHealthOK() time.Time {
	return time.Unix(0, lm.lastHealthOK.Load())
}

// Healthy gibt zurueck, ob das Model zuletzt als gesund markiert wurde.
func (lm *LoadedModel) Healthy() bool {
	return lm.healthy.Load()
}

// acquire erhoeht den Referenzzaehler; muss vor Benutzung durch den
// Runner aufgerufen werden, solange unload() sie noch im Auge behaelt.
func (lm *LoadedModel) acquire() {
	lm.mu.Lock()
	lm.refCount++
	lm.mu.Unlock()
}

// release dekrementiert den Referenzzaehler und ruft bei Erreichen von
// Null den Cleanup auf, falls das Model zwischenzeitlich per retire()
// zum Entladen markiert wurde.
func (lm *LoadedModel) release() {
	lm.mu.Lock()
	lm.refCount--
	var cleanup func()
	if lm.refCount <= 0 && lm.cleanup != nil {
		cleanup = lm.cleanup
		lm.cleanup = nil
	}
	lm.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

// retire markiert das Model zum Entladen. Laufen noch Referenzen, wird
// cleanup bis zum letzten release() aufgeschoben; sonst laeuft es sofort.
func (lm *LoadedModel) retire(cleanup func()) {
	lm.mu.Lock()
	if lm.refCount > 0 {
		lm.cleanup = cleanup
		lm.mu.Unlock()
		return
	}
	lm.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

func (lm *LoadedModel) String() string {
	return fmt.Sprintf("%s@%s", lm.Config.Name, lm.Config.Version)
}

func nowNano() int64 {
	return time.Now().UnixNano()
}
