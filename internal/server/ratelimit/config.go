package ratelimit

import (
	"os"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
	// Group names a budget shared by several configs. Empty means the
	// config has its own budget.
	Group string
}

// CustomizeGroup is the shared budget for every endpoint that calls the model.
const CustomizeGroup = "customize"

func (c *EndpointConfig) bucketKey(clientID string) string {
	if c.Group != "" {
		return clientID + "|" + c.Group
	}
	return clientID + "|" + c.Method + "|" + c.Path
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	CleanupInterval time.Duration
	// IdleTTL is how long an unused client entry is kept.
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig builds a configuration that limits the customization endpoints to
// limit requests per window for each client. Other endpoints are unlimited.
// Client allow and deny lists are read from RATE_LIMIT_WHITELIST and
// RATE_LIMIT_BLACKLIST (comma-separated IPs).
func NewConfig(enabled bool, limit int, window time.Duration, burst int) *Config {
	return &Config{
		Enabled:         enabled,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: CustomizeEndpointConfigs(limit, window, burst),
	}
}

// CustomizeEndpointConfigs returns limits for the endpoints that call the model.
// All of them draw from one budget per client.
func CustomizeEndpointConfigs(limit int, window time.Duration, burst int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/v1/customize", Method: "POST", Limit: limit, Window: window, Burst: burst, Group: CustomizeGroup},
		{Path: "/v1/customize/", Method: "POST", Limit: limit, Window: window, Burst: burst, Group: CustomizeGroup},
	}
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
