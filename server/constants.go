package server

import "github.com/tudihq/deras-agent/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_deras-bridge._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types for consumer communication
const (
	WSMessageTypeTagRead          = "tagRead"
	WSMessageTypeConnectionStatus = "connectionStatus"
	WSMessageTypeError            = "error"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
