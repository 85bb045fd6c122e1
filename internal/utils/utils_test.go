package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", nil)
	req.RemoteAddr = "10.100.0.7:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"public X-Real-IP", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"private X-Real-IP falls through", map[string]string{"X-Real-IP": "10.0.0.1", "X-Forwarded-For": "198.51.100.4"}, "198.51.100.4"},
		{"first public forwarded hop", map[string]string{"X-Forwarded-For": "192.168.1.5, 198.51.100.4, 10.0.0.2"}, "198.51.100.4"},
		{"all private forwarded hops", map[string]string{"X-Forwarded-For": "192.168.1.5, 10.0.0.2"}, "192.168.1.5"},
		{"no headers", nil, "10.100.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetRealIP(testContext(tt.headers)))
		})
	}
}

func TestClientPlatform(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{"empty", "", "unknown"},
		{"android chrome", "Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36", "android"},
		{"iphone safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 16_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Mobile/15E148 Safari/604.1", "ios"},
		{"windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36", "windows"},
		{"android app", "okhttp/4.10.0", "android"},
		{"bot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "bot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientPlatform(tt.userAgent))
		})
	}
}

func TestRequestMetadata(t *testing.T) {
	c := testContext(map[string]string{
		"User-Agent":      "okhttp/4.10.0",
		"X-Forwarded-For": "198.51.100.4",
		CorrelationHeader: "req-123",
	})

	meta := RequestMetadata(c)
	assert.Equal(t, "198.51.100.4", meta.IPAddress)
	assert.Equal(t, "okhttp/4.10.0", meta.UserAgent)
	assert.Equal(t, "android", meta.ClientPlatform)
	assert.Equal(t, "req-123", meta.CorrelationID)

	generated := RequestMetadata(testContext(nil))
	assert.NotEmpty(t, generated.CorrelationID)
	assert.Equal(t, "Unknown", generated.UserAgent)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	require.NoError(t, err)
	b, err := GenerateSecret(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
