// Package config содержит логику чтения конфигурации биллингового сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/leadbilling-system/internal/billing"
)

// Config содержит параметры конфигурации биллингового сервиса.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	NotifierAddress string `env:"NOTIFIER_ADDRESS"`
	AuthSecret      string `env:"AUTH_SECRET"`
	TaxRate         string `env:"TAX_RATE"`
	PaymentDay      int    `env:"BILLING_PAYMENT_DAY"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifierAddress := cfg.NotifierAddress
	envAuthSecret := cfg.AuthSecret
	envTaxRate := cfg.TaxRate
	envPaymentDay := cfg.PaymentDay

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "leadbilling-secret", "secret for auth cookie signing")
	flag.StringVar(&cfg.TaxRate, "t", "0.10", "consumption tax rate as a fraction")
	flag.IntVar(&cfg.PaymentDay, "p", 20, "payment day of the month after issue")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifierAddress != "" {
		cfg.NotifierAddress = envNotifierAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envTaxRate != "" {
		cfg.TaxRate = envTaxRate
	}
	if envPaymentDay != 0 {
		cfg.PaymentDay = envPaymentDay
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if _, err := cfg.BillingSettings(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BillingSettings преобразует текстовые параметры биллинга в типизированные
// настройки, передаваемые сервису явно.
func (c *Config) BillingSettings() (billing.Settings, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return billing.Settings{}, fmt.Errorf("parse tax rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return billing.Settings{}, fmt.Errorf("tax rate %s out of range [0, 1)", rate)
	}

	if c.PaymentDay < 1 || c.PaymentDay > 31 {
		return billing.Settings{}, fmt.Errorf("payment day %d out of range 1-31", c.PaymentDay)
	}

	return billing.Settings{
		TaxRate:    rate,
		PaymentDay: c.PaymentDay,
	}, nil
}
