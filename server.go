package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-harvester/models"
)

const (
	defaultItemsLimit = 25
	maxItemsLimit     = 500
)

type statisticsProvider interface {
	GetStatistics() models.Statistics
}

type itemQuerier interface {
	GetTopItems(ctx context.Context, limit int) ([]models.EnrichedItem, error)
	GetItemsByCategory(ctx context.Context, category string, limit int) ([]models.EnrichedItem, error)
	GetLatestSession(ctx context.Context) (*models.SessionSummary, error)
}

// newEchoServer builds the HTTP API
func newEchoServer(collector statisticsProvider, items itemQuerier, maxRequestsPerMinute int) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0

	rateLimit := rate.Limit(requestsPerSecond * 0.95) // use 95% of the rate limit to be safe

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rateLimit,
				Burst:     1, // no burst capability
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	}
	e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))

	e.GET("/api/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, collector.GetStatistics())
	})

	e.GET("/api/stats/:category", func(c echo.Context) error {
		category := c.Param("category")

		categoryStats, exists := collector.GetStatistics().CategoryStats[category]
		if !exists {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("No statistics available for category %s", category),
			})
		}

		return c.JSON(http.StatusOK, categoryStats)
	})

	// ranked items, optionally narrowed to one category
	e.GET("/api/items", func(c echo.Context) error {
		limit := defaultItemsLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxItemsLimit {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("limit must be between 1 and %d", maxItemsLimit),
				})
			}
			limit = n
		}

		ctx := c.Request().Context()
		var (
			result []models.EnrichedItem
			err    error
		)
		if category := c.QueryParam("category"); category != "" {
			result, err = items.GetItemsByCategory(ctx, category, limit)
		} else {
			result, err = items.GetTopItems(ctx, limit)
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to query items"})
		}

		return c.JSON(http.StatusOK, result)
	})

	e.GET("/api/sessions/latest", func(c echo.Context) error {
		session, err := items.GetLatestSession(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to query sessions"})
		}
		if session == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "No session has finished yet"})
		}
		return c.JSON(http.StatusOK, session)
	})

	// health check endpoint for liveness probes
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	return e
}

// startEchoServer starts the Echo HTTP API server and stops it when ctx is done
func startEchoServer(ctx context.Context, port int, collector statisticsProvider, items itemQuerier, log *logrus.Logger, maxRequestsPerMinute int) {
	e := newEchoServer(collector, items, maxRequestsPerMinute)

	// start the server!
	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// wait for context cancellation to shut down server
	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}
