// errors.go - Sentinel-Fehler der Serving-Pipeline.
package server

import "errors"

var (
	// ErrQueueFull wird zurueckgegeben, wenn die Prioritaets-Warteschlange
	// des Schedulers voll ist.
	ErrQueueFull = errors.New("scheduler queue full, try again later")

	// ErrUnknownModel wird zurueckgegeben, wenn kein Model mit dem
	// angegebenen Namen registriert, keine aktive Version gesetzt oder die
	// angegebene Version nicht geladen ist.
	ErrUnknownModel = errors.New("unknown model")

	// ErrAlreadyLoaded wird zurueckgegeben, wenn (Name, Version) bereits
	// geladen ist.
	ErrAlreadyLoaded = errors.New("model version already loaded")

	// ErrLoaderExists wird zurueckgegeben, wenn fuer einen Model-Namen
	// bereits ein Loader registriert ist und replace=false gesetzt wurde.
	ErrLoaderExists = errors.New("loader already registered for model")

	// ErrNoLoader wird zurueckgegeben, wenn fuer einen Model-Namen kein
	// Loader registriert wurde.
	ErrNoLoader = errors.New("no loader registered for model")

	// ErrWarmupFailed wird zurueckgegeben, wenn das Warm-up beim Laden
	// fehlschlaegt.
	ErrWarmupFailed = errors.New("model warmup failed")

	// ErrRateLimited wird von der Rate-Limiter-Middleware zurueckgegeben.
	ErrRateLimited = errors.New("rate limited")

	// ErrOverloaded wird zurueckgegeben, wenn max_connections erreicht ist.
	ErrOverloaded = errors.New("server overloaded")

	// ErrShuttingDown wird zurueckgegeben, wenn der Server im Drain-Modus ist.
	ErrShuttingDown = errors.New("server shutting down")
)
