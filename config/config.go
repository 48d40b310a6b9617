// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

var ErrUnknownStorage = errors.New("unknown storage backend")

type Config struct {
	Addr        string `env:"ACASINHA_ADDR"         envDefault:":5000"`
	DatabaseURL string `env:"ACASINHA_DATABASE_URL" envDefault:"host=localhost port=5432 user=postgres password=postgres dbname=expenses sslmode=disable"`
	Storage     string `env:"ACASINHA_STORAGE"      envDefault:"postgres"`
	// AllowOverpayment lets a settlement exceed what the payer owes.
	AllowOverpayment   bool `env:"ACASINHA_ALLOW_OVERPAYMENT"    envDefault:"false"`
	AuditBuffer        int  `env:"ACASINHA_AUDIT_BUFFER"         envDefault:"100"`
	MaxAttachmentBytes int  `env:"ACASINHA_MAX_ATTACHMENT_BYTES" envDefault:"10485760"`
	// AttachmentDir, when set, keeps receipts in an embedded store on local
	// disk instead of the configured storage backend.
	AttachmentDir string `env:"ACASINHA_ATTACHMENT_DIR"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownStorage, cfg.Storage)
	}
	if cfg.AuditBuffer <= 0 {
		cfg.AuditBuffer = 100
	}
	return cfg, nil
}
