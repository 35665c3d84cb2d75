// Package httpapi exposes deal sync over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chmdznr/deal-drive-sync/internal/config"
	"github.com/chmdznr/deal-drive-sync/internal/report"
	"github.com/chmdznr/deal-drive-sync/internal/sync"
	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

const moduleName = "httpapi"

// DealService is what the handlers call into.
type DealService interface {
	SyncDeal(ctx context.Context, dealID string) (models.SyncResult, error)
	Files(ctx context.Context, dealID string) ([]models.LedgerRecord, error)
	Stats(ctx context.Context, dealID string) (*models.Stats, error)
	Forget(ctx context.Context, dealID string) (int64, error)
}

type Server struct {
	svc    DealService
	logger *logrus.Logger
}

func NewServer(svc DealService, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{svc: svc, logger: logger}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	deals := r.Group("/deals/:id")
	deals.POST("/sync", s.syncDeal)
	deals.GET("/files", s.listFiles)
	deals.DELETE("/files", s.forget)
	deals.GET("/stats", s.stats)
	deals.GET("/report.xlsx", s.report)
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) syncDeal(c *gin.Context) {
	dealID := c.Param("id")
	result, err := s.svc.SyncDeal(c.Request.Context(), dealID)
	if err != nil {
		var syncErr *sync.SyncError
		if errors.As(err, &syncErr) {
			config.LogError(s.logger, moduleName, "syncDeal", "content store unavailable", dealID, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": syncErr.Code})
			return
		}
		config.LogError(s.logger, moduleName, "syncDeal", "deal sync failed", dealID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listFiles(c *gin.Context) {
	records, err := s.svc.Files(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "listFiles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": records})
}

func (s *Server) forget(c *gin.Context) {
	removed, err := s.svc.Forget(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "forget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) report(c *gin.Context) {
	dealID := c.Param("id")
	records, err := s.svc.Files(c.Request.Context(), dealID)
	if err != nil {
		s.internalError(c, "report", err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=deal-%s.xlsx", dealID))
	if err := report.Write(c.Writer, records); err != nil {
		config.LogError(s.logger, moduleName, "report", "failed to write workbook", dealID, err)
	}
}

func (s *Server) internalError(c *gin.Context, funcName string, err error) {
	config.LogError(s.logger, moduleName, funcName, "ledger query failed", c.Param("id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
