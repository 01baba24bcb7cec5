package params

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Market struct {
	BrokerFeeRate decimal.Decimal
	SalesTaxRate  decimal.Decimal
	OrderDuration time.Duration
	Locations     []string
	Items         []string
	// ReferencePrices seeds the price oracle for books without live orders.
	ReferencePrices map[string]decimal.Decimal
}

type Node struct {
	// SweepInterval paces order expiry and the account flush.
	SweepInterval time.Duration
	DataDir       string
	LogFile       string
	LogLevel      string
}

type Sim struct {
	Enabled  bool
	Traders  int
	Interval time.Duration
	// Spread is how far NPC limit prices stray from the reference, as a fraction.
	Spread decimal.Decimal
}

type Config struct {
	Market Market
	Node   Node
	Sim    Sim
}

func Default() Config {
	return Config{
		Market: Market{
			BrokerFeeRate: decimal.RequireFromString("0.03"),
			SalesTaxRate:  decimal.RequireFromString("0.02"),
			OrderDuration: 24 * time.Hour,
			Locations:     []string{"jita-4-4", "amarr-viii"},
			Items:         []string{"tritanium", "pyerite", "mexallon", "isogen"},
			ReferencePrices: map[string]decimal.Decimal{
				"tritanium": decimal.RequireFromString("5.5"),
				"pyerite":   decimal.RequireFromString("12"),
				"mexallon":  decimal.RequireFromString("75"),
				"isogen":    decimal.RequireFromString("140"),
			},
		},
		Node: Node{
			SweepInterval: time.Second,
			DataDir:       "./data",
			LogLevel:      "info",
		},
		Sim: Sim{
			Enabled:  false,
			Traders:  8,
			Interval: 250 * time.Millisecond,
			Spread:   decimal.RequireFromString("0.05"),
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("MARKET_BROKER_FEE_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_BROKER_FEE_RATE %q: %w", v, err)
		}
		cfg.Market.BrokerFeeRate = rate
	}
	if v := os.Getenv("MARKET_SALES_TAX_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_SALES_TAX_RATE %q: %w", v, err)
		}
		cfg.Market.SalesTaxRate = rate
	}
	if v := os.Getenv("MARKET_ORDER_DURATION_S"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_ORDER_DURATION_S %q: %w", v, err)
		}
		cfg.Market.OrderDuration = time.Duration(s) * time.Second
	}
	if v := os.Getenv("MARKET_LOCATIONS"); v != "" {
		cfg.Market.Locations = splitList(v)
	}
	if v := os.Getenv("MARKET_ITEMS"); v != "" {
		cfg.Market.Items = splitList(v)
		// Default references only cover default items; keep the ones still listed.
		for item := range cfg.Market.ReferencePrices {
			if !slices.Contains(cfg.Market.Items, item) {
				delete(cfg.Market.ReferencePrices, item)
			}
		}
	}
	if v := os.Getenv("MARKET_REFERENCE_PRICES"); v != "" {
		prices, err := parsePrices(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid MARKET_REFERENCE_PRICES: %w", err)
		}
		cfg.Market.ReferencePrices = prices
	}

	if v := os.Getenv("NODE_SWEEP_INTERVAL_MS"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid NODE_SWEEP_INTERVAL_MS %q: %w", v, err)
		}
		cfg.Node.SweepInterval = d
	}
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	if v := os.Getenv("ENABLE_NPC"); v != "" {
		cfg.Sim.Enabled = v == "true"
	}
	if v := os.Getenv("NPC_TRADERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid NPC_TRADERS %q: %w", v, err)
		}
		cfg.Sim.Traders = n
	}
	if v := os.Getenv("NPC_INTERVAL_MS"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid NPC_INTERVAL_MS %q: %w", v, err)
		}
		cfg.Sim.Interval = d
	}

	return cfg, nil
}

// parseMillis parses a positive whole number of milliseconds. Intervals drive
// tick loops, so zero or negative values are rejected rather than spun on.
func parseMillis(s string) (time.Duration, error) {
	ms, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// splitList parses "a, b,c" into its non-empty trimmed elements.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePrices parses "item=price,item=price".
func parsePrices(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range splitList(s) {
		item, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected item=price, got %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("price of %s: %w", item, err)
		}
		out[strings.TrimSpace(item)] = price
	}
	return out, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
