package collector

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizePath normalizes the report path: leading slash, no trailing slash,
// and "/" for empty input.
func sanitizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
