package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/companionspay/ledgerd/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the ledger service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Environment
	Environment string

	// Stripe API secret key and webhook signing secret
	StripeSecretKey     string
	StripeWebhookSecret string

	// Redirect targets for the hosted Stripe checkout
	StripeSuccessURL string
	StripeCancelURL  string

	// PayPal REST credentials and API base (sandbox by default)
	PayPalClientID string
	PayPalSecret   string
	PayPalAPIBase  string

	// Redirect targets after PayPal approval
	PayPalReturnURL string
	PayPalCancelURL string

	// Process webhooks without signature verification.
	// Never set this in production, it exists for local development only
	InsecureWebhooks bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setBool := func(o *bool) func(value string) {
		return func(value string) {
			if value == "true" || value == "1" {
				*o = true
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":           setString(&c.ListenAddr),
		"DATABASE_URI":          setString(&c.DatabaseDSN),
		"LOG_LEVEL":             setString(&c.LogLevel),
		"ENVIRONMENT":           setString(&c.Environment),
		"STRIPE_SECRET_KEY":     setString(&c.StripeSecretKey),
		"STRIPE_WEBHOOK_SECRET": setString(&c.StripeWebhookSecret),
		"STRIPE_SUCCESS_URL":    setString(&c.StripeSuccessURL),
		"STRIPE_CANCEL_URL":     setString(&c.StripeCancelURL),
		"PAYPAL_CLIENT_ID":      setString(&c.PayPalClientID),
		"PAYPAL_SECRET":         setString(&c.PayPalSecret),
		"PAYPAL_API_BASE":       setString(&c.PayPalAPIBase),
		"PAYPAL_RETURN_URL":     setString(&c.PayPalReturnURL),
		"PAYPAL_CANCEL_URL":     setString(&c.PayPalCancelURL),
		"INSECURE_WEBHOOKS":     setBool(&c.InsecureWebhooks),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("ledgerd", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.BoolVar(&c.InsecureWebhooks, "insecure-webhooks", c.InsecureWebhooks, "Process webhooks without signature verification (development only)")

	return fs.Parse(args)
}
