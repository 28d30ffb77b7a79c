package constants

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultDatabaseRetryAttempts = 3
	DefaultServerPort            = 8090
)

// Default timeout values
const (
	DefaultSlackHTTPTimeoutSec   = 10
	DefaultDeliveryTimeoutSec    = 10
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// ServerErrorChannelSize bounds the buffered channel used to surface
// server startup failures to the main goroutine.
const ServerErrorChannelSize = 1
