// handlers_models.go - Model-Verwaltung ueber HTTP
//
// POST /models/load laedt eine (Name, Version) ueber den registrierten
// Loader, POST /models/activate setzt die aktive Version atomar um,
// DELETE /models/:name/:version entlaedt eine Version, waehrend
// laufende Requests ihre Referenz behalten. Jeder geladene Model-Name
// bekommt ueber den RunnerPool eine Batch-Schleife.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/api"
)

// statusFromErr maps registry errors onto the wire representation.
func statusFromErr(err error) api.StatusError {
	switch {
	case errors.Is(err, ErrUnknownModel), errors.Is(err, ErrNoLoader):
		return api.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: err.Error()}
	case errors.Is(err, ErrAlreadyLoaded), errors.Is(err, ErrLoaderExists):
		return api.StatusError{StatusCode: http.StatusConflict, ErrorMessage: err.Error()}
	default:
		return api.StatusError{StatusCode: http.StatusInternalServerError, ErrorMessage: err.Error()}
	}
}

func abortWithErr(c *gin.Context, err error) {
	se := statusFromErr(err)
	c.JSON(se.StatusCode, gin.H{"error": se.ErrorMessage})
}

func (s *Server) handleModelLoad(c *gin.Context) {
	var req api.LoadModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := ModelConfig{
		Name:         req.Name,
		Version:      req.Version,
		LoadPath:     req.LoadPath,
		DeviceHint:   req.DeviceHint,
		Precision:    req.Precision,
		MaxSeqLength: req.MaxSeqLength,
		WarmupTokens: req.WarmupTokens,
		Metadata:     req.Metadata,
	}

	lm, err := s.Registry.Load(c.Request.Context(), cfg)
	if err != nil {
		abortWithErr(c, err)
		return
	}

	if req.Activate {
		if err := s.Registry.SetActiveVersion(req.Name, req.Version); err != nil {
			abortWithErr(c, err)
			return
		}
	}
	s.Runners.Ensure(req.Name)

	c.JSON(http.StatusOK, gin.H{
		"name":    lm.Config.Name,
		"version": lm.Config.Version,
		"active":  req.Activate,
	})
}

func (s *Server) handleModelActivate(c *gin.Context) {
	var req api.ActivateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Registry.SetActiveVersion(req.Name, req.Version); err != nil {
		abortWithErr(c, err)
		return
	}
	s.Runners.Ensure(req.Name)

	c.JSON(http.StatusOK, gin.H{"name": req.Name, "version": req.Version})
}

func (s *Server) handleModelUnload(c *gin.Context) {
	name, version := c.Param("name"), c.Param("version")

	if err := s.Registry.Unload(name, version); err != nil {
		abortWithErr(c, err)
		return
	}

	// Letzte Version weg -> Batch-Schleife fuer den Namen anhalten.
	remaining := false
	for _, m := range s.Registry.List() {
		if m.Name == name {
			remaining = true
			break
		}
	}
	if !remaining {
		s.Runners.Stop(name)
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "version": version})
}
