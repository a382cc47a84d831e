package smtpx

import (
	"context"

	"gopkg.in/gomail.v2"
)

// Sender is the outbound mail transport. Implementations may block on network
// I/O, the context carries the per-send deadline.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	FromAddress string
	FromName    string
}

// NewDialer returns a Sender delivering through an authenticated SMTP relay.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.FromAddress,
		name:   cfg.FromName,
	}
}

type Dialer struct {
	dialer *gomail.Dialer
	from   string
	name   string
}

func (d *Dialer) Send(ctx context.Context, to, subject, html string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", d.from, d.name)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	return do(ctx, func() error {
		return d.dialer.DialAndSend(m)
	})
}

// do bounds a blocking send with the context deadline. gomail has no context
// support, so a hung relay is abandoned rather than waited out. The goroutine
// finishes on its own once the connection times out server side.
func do(ctx context.Context, send func() error) error {
	errc := make(chan error, 1)
	go func() {
		errc <- send()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
