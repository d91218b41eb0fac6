package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Rounding modes accepted by BILLING_ROUNDING
const (
	RoundingNearest = "nearest"
	RoundingUp      = "up"
	RoundingDown    = "down"
)

// Date orders accepted by DATE_ORDER for slash-separated dates
const (
	DateOrderStrict = "" // ambiguous dates are rejected
	DateOrderMDY    = "MDY"
	DateOrderDMY    = "DMY"
)

type Config struct {
	Environment string
	DBPath      string
	DBLogLevel  string // silent, error, warn or info; empty picks by environment
	ServerPort  string
	UploadDir   string
	// Remote libSQL (Turso)
	TursoDatabaseURL string
	TursoAuthToken   string
	// Cloudflare R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
	// Email (Resend)
	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	EmailTestMode bool // When true, emails are logged to console instead of sent
	OperatorEmail string
	// Import and billing policy
	BillingIncrement   string
	BillingRounding    string
	DateOrder          string
	Timezone           string
	AliasFile          string
	CSVDelimiter       string
	StripHTML          bool
	ValidationSchedule string
	ImportsPerMinute   int // per client address; 0 disables the limit
	// Known vocabularies; empty means the built-in lists
	EntryTypes        []string
	BillingCategories []string
}

func Load() *Config {
	// Load .env file (ignore error if not present - use system env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		DBPath:             getEnv("DB_PATH", "db/casefiles.db"),
		DBLogLevel:         strings.ToLower(getEnv("DB_LOG_LEVEL", "")),
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		UploadDir:          getEnv("UPLOAD_DIR", "storage"),
		TursoDatabaseURL:   getEnv("TURSO_DATABASE_URL", ""),
		TursoAuthToken:     getEnv("TURSO_AUTH_TOKEN", ""),
		R2AccountID:        getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:      getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:  getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:       getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:        getEnv("R2_PUBLIC_URL", ""),
		ResendAPIKey:       getEnv("RESEND_API_KEY", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "billing@casefiles.local"),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "Case File Billing"),
		EmailTestMode:      getEnvBool("EMAIL_TEST_MODE", true), // Default true for safety
		OperatorEmail:      getEnv("OPERATOR_EMAIL", ""),
		BillingIncrement:   getEnv("BILLING_INCREMENT", "0.1"),
		BillingRounding:    strings.ToLower(getEnv("BILLING_ROUNDING", RoundingNearest)),
		DateOrder:          strings.ToUpper(getEnv("DATE_ORDER", DateOrderStrict)),
		Timezone:           getEnv("TIMEZONE", "UTC"),
		AliasFile:          getEnv("ALIAS_FILE", ""),
		CSVDelimiter:       getEnv("CSV_DELIMITER", ""),
		StripHTML:          getEnvBool("STRIP_HTML", true),
		ValidationSchedule: getEnv("VALIDATION_SCHEDULE", "0 2 * * *"),
		ImportsPerMinute:   getEnvInt("IMPORTS_PER_MINUTE", 10),
		EntryTypes:         getEnvList("ENTRY_TYPES"),
		BillingCategories:  getEnvList("BILLING_CATEGORIES"),
	}
}

// Default returns the configuration used when no environment is present.
// Tests and embedded callers use it instead of Load to avoid reading .env.
func Default() *Config {
	return &Config{
		Environment:        "development",
		DBPath:             ":memory:",
		ServerPort:         "8080",
		UploadDir:          "storage",
		EmailFrom:          "billing@casefiles.local",
		EmailFromName:      "Case File Billing",
		EmailTestMode:      true,
		BillingIncrement:   "0.1",
		BillingRounding:    RoundingNearest,
		DateOrder:          DateOrderStrict,
		Timezone:           "UTC",
		StripHTML:          true,
		ValidationSchedule: "0 2 * * *",
		ImportsPerMinute:   10,
	}
}

// Validate checks the import and billing policy values
func (c *Config) Validate() error {
	inc, err := decimal.NewFromString(c.BillingIncrement)
	if err != nil {
		return fmt.Errorf("invalid BILLING_INCREMENT %q: %w", c.BillingIncrement, err)
	}
	if !inc.IsPositive() {
		return fmt.Errorf("invalid BILLING_INCREMENT %q: must be positive", c.BillingIncrement)
	}

	switch c.BillingRounding {
	case RoundingNearest, RoundingUp, RoundingDown:
	default:
		return fmt.Errorf("invalid BILLING_ROUNDING %q: expected nearest, up or down", c.BillingRounding)
	}

	switch c.DateOrder {
	case DateOrderStrict, DateOrderMDY, DateOrderDMY:
	default:
		return fmt.Errorf("invalid DATE_ORDER %q: expected MDY, DMY or empty", c.DateOrder)
	}

	switch c.DBLogLevel {
	case "", "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("invalid DB_LOG_LEVEL %q: expected silent, error, warn or info", c.DBLogLevel)
	}

	if c.ImportsPerMinute < 0 {
		return fmt.Errorf("invalid IMPORTS_PER_MINUTE %d: must not be negative", c.ImportsPerMinute)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if len([]rune(c.CSVDelimiter)) > 1 && c.CSVDelimiter != `\t` && c.CSVDelimiter != "tab" {
		return fmt.Errorf("invalid CSV_DELIMITER %q: must be a single character", c.CSVDelimiter)
	}

	return nil
}

// Location resolves TIMEZONE
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Delimiter returns the configured CSV delimiter, or 0 to auto-detect
func (c *Config) Delimiter() rune {
	switch c.CSVDelimiter {
	case "":
		return 0
	case `\t`, "tab":
		return '\t'
	}
	return []rune(c.CSVDelimiter)[0]
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable, dropping blank items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept common boolean representations
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
