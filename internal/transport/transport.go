package transport

import "time"

// Constants for default backend configuration.
const (
	// DefaultServerURL is the backend origin used when none is configured.
	DefaultServerURL = "http://localhost:8001"
	// DefaultControlAddr is where the daemon serves the local control API.
	DefaultControlAddr = "127.0.0.1:8093"
	// APIPrefix is prepended to every backend path.
	APIPrefix = "/api"
)

// Backend paths, relative to APIPrefix.
const (
	PathLogin           = "/auth/login"
	PathRegister        = "/auth/register"
	PathProfile         = "/user/profile"
	PathCreateReport    = "/report/create"
	PathPanicActivate   = "/panic/activate"
	PathPanicLocation   = "/panic/location"
	PathPanicDeactivate = "/panic/deactivate"
	PathEscortAction    = "/escort/action"
	PathEscortLocation  = "/escort/location"
)

// Timeouts applied to backend calls.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultUploadTimeout  = 30 * time.Second
)

// Keys of the locally persisted state.
const (
	SecureTokenKey   = "auth_token"
	FallbackTokenKey = "auth_token"
	UserIDKey        = "user_id"
	UserRoleKey      = "user_role"
	IsPremiumKey     = "is_premium"
	TokenBackendKey  = "token_backend"
	QueueKey         = "safeguard_offline_queue"
	PingQueueKey     = "safeguard_location_queue"
)
