package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	DbURI string `env:"UTSKICK_DB_URI" envDefault:"./utskick.sqlite"`

	APIPort int      `env:"UTSKICK_API_PORT" envDefault:"8080"`
	APIKeys []string `env:"UTSKICK_API_KEYS" envSeparator:","`

	AdminTokens   []string `env:"UTSKICK_ADMIN_TOKENS" envSeparator:","` // stand-in for the site's token verifier
	TriggerSecret string   `env:"UTSKICK_TRIGGER_SECRET"`

	BatchSize   int           `env:"UTSKICK_BATCH_SIZE" envDefault:"10"`
	Workers     int           `env:"UTSKICK_WORKERS" envDefault:"5"`
	SendTimeout time.Duration `env:"UTSKICK_SEND_TIMEOUT" envDefault:"15s"`
	ClaimLease  time.Duration `env:"UTSKICK_CLAIM_LEASE" envDefault:"2m"`

	SMTPHost     string `env:"UTSKICK_SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"UTSKICK_SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"UTSKICK_SMTP_USER"`
	SMTPPassword string `env:"UTSKICK_SMTP_PASSWORD"`
	FromAddress  string `env:"UTSKICK_FROM_ADDRESS" envDefault:"no-reply@localhost"`
	FromName     string `env:"UTSKICK_FROM_NAME" envDefault:"Utskick"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}
