package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ua "github.com/mssola/user_agent"
	"github.com/smarttransit/booking-backend/internal/models"
)

// CorrelationHeader carries a caller supplied request id
const CorrelationHeader = "X-Request-ID"

var platforms = []struct {
	marker   string
	platform string
}{
	{"android", "android"},
	{"iphone os", "ios"},
	{"ios", "ios"},
	{"windows", "windows"},
	{"mac os x", "mac"},
	{"macos", "mac"},
	{"chrome os", "chromeos"},
	{"linux", "linux"},
	{"ubuntu", "linux"},
}

// ClientPlatform maps a User-Agent to android, ios, windows, mac, chromeos,
// linux, bot or unknown
func ClientPlatform(userAgent string) string {
	if userAgent == "" || userAgent == "Unknown" {
		return "unknown"
	}

	parser := ua.New(userAgent)
	if parser.Bot() {
		return "bot"
	}

	osName := strings.ToLower(parser.OSInfo().Name)
	for _, p := range platforms {
		if strings.Contains(osName, p.marker) {
			return p.platform
		}
	}

	// Native app clients (okhttp, CFNetwork) carry no OS token
	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "okhttp") || strings.Contains(lower, "dalvik"):
		return "android"
	case strings.Contains(lower, "cfnetwork") || strings.Contains(lower, "darwin"):
		return "ios"
	}
	return "unknown"
}

// RequestMetadata describes the caller of a payment request for the audit log
func RequestMetadata(c *gin.Context) models.RequestMeta {
	userAgent := GetUserAgent(c)
	correlationID := c.GetHeader(CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return models.RequestMeta{
		IPAddress:      GetRealIP(c),
		UserAgent:      userAgent,
		ClientPlatform: ClientPlatform(userAgent),
		CorrelationID:  correlationID,
	}
}
