package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tokenloop/internal/logger"
)

type Server struct {
	store   *SampleStore
	service *SamplingService
	log     logger.Logger
}

func NewServer(store *SampleStore, service *SamplingService, log logger.Logger) *Server {
	if store == nil {
		store = NewSampleStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/samples", s.handleCreateSample)
	e.GET("/v1/samples/:id", s.handleGetSample)
	e.DELETE("/v1/samples/:id", s.handleDeleteSample)
	e.POST("/v1/filter", s.handleFilter)
}

func (s *Server) handleCreateSample(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "sampling service not configured", "", "")
	}
	req, err := decodeJSON[SampleRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	resp, err := s.service.Sample(ctx, &req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	s.store.Save(*resp)
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleGetSample(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "sample "+id+" not found")
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleDeleteSample(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "sample "+id+" not found")
	}
	return writeJSON(c, http.StatusOK, DeleteSampleResp{
		ID:      id,
		Object:  "sample.deleted",
		Deleted: true,
	})
}

func (s *Server) handleFilter(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "sampling service not configured", "", "")
	}
	req, err := decodeJSON[FilterRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.service.Filter(&req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) writeServiceError(c *echo.Context, err error) error {
	switch {
	case isClientError(err):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "request_cancelled")
	default:
		s.log.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}
