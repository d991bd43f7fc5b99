package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Store connection checks
const (
	StorePingTimeout = 5 * time.Second
	DBMaxOpenConns   = 25
	DBMaxIdleConns   = 5
	DBConnMaxLife    = 5 * time.Minute
)

// Background jobs
const (
	CleanupJobInterval = 5 * time.Minute
	ConsumerRunTimeout = 2 * time.Minute
)

// Sessions and codes
const (
	SessionLifetime = 24 * time.Hour
	OTPDigits       = 6
)

// Rate limiting
const (
	DefaultRateLimitPerMin = 60
	RateLimitWindow        = 60 * time.Second
)

// Backend contract headers
const (
	HeaderUserID       = "X-User-Id"
	HeaderGatewayToken = "X-Gateway-Token"
)

// Maximum bytes of a backend body echoed back in diagnostics
const BackendExcerptLimit = 500

// Wrong guesses allowed against one verification code before it is discarded
const OTPMaxAttempts = 5

// Inbound payload cap
const MaxRequestBodyBytes = 1 << 20

// Used when a backend client is built without a timeout
const DefaultBackendTimeout = 30 * time.Second
