package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modfin/henry/compare"
	"github.com/sirupsen/logrus"
	"github.com/utskick/utskick"
	"github.com/utskick/utskick/internal/campaign"
	"github.com/utskick/utskick/internal/dao"
	"github.com/utskick/utskick/internal/processor"
	"github.com/utskick/utskick/tools"
)

type Config struct {
	Port int

	APIKeys       []string
	TriggerSecret string
}

type Server struct {
	cfg Config
	log *logrus.Logger

	e *echo.Echo

	db        dao.DAO
	campaigns *campaign.Service
	processor *processor.Processor
}

func New(cfg Config, lc *tools.Logger, db dao.DAO, campaigns *campaign.Service, proc *processor.Processor) *Server {
	s := &Server{
		cfg:       cfg,
		log:       lc.New("web"),
		db:        db,
		campaigns: campaigns,
		processor: proc,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger(), middleware.Recover())

	prom := prometheus.NewPrometheus("utskick", nil)
	prom.Use(e)

	api := e.Group("/api")
	api.POST("/queue", s.enqueue, s.keyAuth)
	api.GET("/stats", s.stats, s.keyAuth)
	api.POST("/campaigns", s.sendCampaign)
	api.POST("/process", s.process)

	s.e = e
	return s
}

func (s *Server) Start() {
	go func() {
		s.log.Infof("Starting webserver on :%d", s.cfg.Port)
		err := s.e.Start(fmt.Sprintf(":%d", compare.Coalesce(s.cfg.Port, 8080)))
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("webserver stopped")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// keyAuth guards the endpoints used by the website backend. The key travels as
// a bearer token or, brev style, a key query param.
func (s *Server) keyAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := compare.Coalesce(bearerToken(c), c.QueryParam("key"))
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "an api key must be provided")
		}
		for _, k := range s.cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				return next(c)
			}
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
	}
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return ""
	}
	return token
}

func httpStatusOf(err error) int {
	switch {
	case errors.Is(err, utskick.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, utskick.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, utskick.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusServiceUnavailable
}
