package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/utskick/utskick"
	"github.com/utskick/utskick/internal/metrics"
)

type enqueueRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// enqueue accepts one message and returns its queued state. Delivery happens
// later, the caller is done once the row is durable.
func (s *Server) enqueue(c echo.Context) error {
	var req enqueueRequest
	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to bind body")
	}

	msg := utskick.NewMessage(req.To, req.Subject, req.Body)
	err = msg.Validate()
	if err != nil {
		return echo.NewHTTPError(httpStatusOf(err), err.Error())
	}

	err = s.db.Enqueue(msg)
	if err != nil {
		s.log.WithError(err).Error("could not enqueue message")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not enqueue message")
	}
	metrics.Enqueued.Inc()

	return c.JSON(http.StatusOK, msg)
}

type campaignResponse struct {
	RecipientCount int `json:"recipientCount"`
}

func (s *Server) sendCampaign(c echo.Context) error {
	var req utskick.Campaign
	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to bind body")
	}

	count, err := s.campaigns.Send(bearerToken(c), req)
	if err != nil {
		return echo.NewHTTPError(httpStatusOf(err), err.Error())
	}
	metrics.Enqueued.Add(float64(count))

	return c.JSON(http.StatusOK, campaignResponse{RecipientCount: count})
}

type processResponse struct {
	ProcessedCount int `json:"processedCount"`
}

// process is the external trigger for one batch round. It carries a service
// secret distinct from user auth.
func (s *Server) process(c echo.Context) error {
	secret := bearerToken(c)
	if s.cfg.TriggerSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.TriggerSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "a valid trigger secret must be provided")
	}

	count, err := s.processor.Process(c.Request().Context())
	if err != nil {
		s.log.WithError(err).Error("batch round aborted")
		return c.JSON(http.StatusServiceUnavailable, processResponse{ProcessedCount: 0})
	}
	return c.JSON(http.StatusOK, processResponse{ProcessedCount: count})
}

type statsResponse struct {
	Stats []utskick.StatusCount `json:"stats"`
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.db.Stats()
	if err != nil {
		s.log.WithError(err).Error("could not read stats")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not read stats")
	}
	return c.JSON(http.StatusOK, statsResponse{Stats: stats})
}
