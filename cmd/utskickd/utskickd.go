package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/utskick/utskick/internal/campaign"
	"github.com/utskick/utskick/internal/config"
	"github.com/utskick/utskick/internal/dao"
	"github.com/utskick/utskick/internal/processor"
	"github.com/utskick/utskick/internal/resolver"
	"github.com/utskick/utskick/internal/smtpx"
	"github.com/utskick/utskick/internal/web"
	"github.com/utskick/utskick/tools"
)

func main() {

	_ = godotenv.Load()

	app := &cli.App{
		Name:   "utskickd",
		Usage:  "a service for queuing and sending club email",
		Flags:  []cli.Flag{},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}

}

func start(c *cli.Context) error {
	l := log.New()
	l.AddHook(tools.LoggerWho{Name: "utskickd"})
	lc := tools.LoggerCloner(l)

	cfg := config.Get()

	l.Infof("Starting server")

	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return err
	}

	sender := smtpx.NewDialer(smtpx.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		User:        cfg.SMTPUser,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
	})

	proc := processor.New(processor.Config{
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.Workers,
		SendTimeout: cfg.SendTimeout,
		ClaimLease:  cfg.ClaimLease,
	}, db, sender, lc)

	campaigns := campaign.New(
		staticVerifier{tokens: cfg.AdminTokens},
		resolver.New(db, lc),
		db,
		campaign.NewHTMLRenderer(),
		lc,
	)

	srv := web.New(web.Config{
		Port:          cfg.APIPort,
		APIKeys:       cfg.APIKeys,
		TriggerSecret: cfg.TriggerSecret,
	}, lc, db, campaigns, proc)
	srv.Start()

	services := []Stoppable{srv}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	l.Infof("Got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		service := service
		go func(service Stoppable) {
			defer wg.Done()
			err := service.Stop(shutdownCtx)
			if err != nil {
				l.WithError(err).Error("Failed to stop service")
			}
		}(service)
	}

	go func() {
		<-shutdownCtx.Done()
		l.WithError(shutdownCtx.Err()).Warn("Shutdown was forced, terminating now")
		os.Exit(1)
	}()

	wg.Wait()
	err = db.Close()
	if err != nil {
		l.WithError(err).Error("Failed to close database")
	}
	l.Infof("Shutdown complete")
	return nil
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

// staticVerifier stands in for the website's token verifier during local runs.
// Any configured admin token authenticates as an admin.
type staticVerifier struct {
	tokens []string
}

func (v staticVerifier) Verify(token string) (campaign.Identity, error) {
	for _, t := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			return campaign.Identity{UserId: "admin", Role: campaign.RoleAdmin}, nil
		}
	}
	return campaign.Identity{}, errors.New("unknown token")
}
