package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly middleware - only allow loopback or allowlisted IPs access.
// Used for /metrics.
type LocalhostOnly struct {
	ips  []net.IP
	nets []*net.IPNet
}

// NewLocalhostOnly parses allowed IPs and CIDR ranges; invalid entries are skipped with a warning
func NewLocalhostOnly(allowed []string) *LocalhostOnly {
	l := &LocalhostOnly{}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logrus.WithError(err).Warnf("⚠️ [LocalhostOnly] invalid CIDR %q ignored", entry)
				continue
			}
			l.nets = append(l.nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logrus.Warnf("⚠️ [LocalhostOnly] invalid IP %q ignored", entry)
			continue
		}
		l.ips = append(l.ips, ip)
	}
	return l
}

// Restrict restrict access to localhost and the allowlist
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if l.isAllowedIP(clientIP) {
			c.Next()
			return
		}

		// direct loopback connections pass even when a proxy header says otherwise
		remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
		if remoteIP != clientIP && isLocalhost(remoteIP) {
			c.Next()
			return
		}

		logrus.WithFields(logrus.Fields{
			"client_ip":  clientIP,
			"remote_ip":  remoteIP,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"user_agent": c.GetHeader("User-Agent"),
		}).Warn("🚫 [LocalhostOnly] rejected non-allowlisted access")

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "This API is only accessible from allowed IP addresses",
			"code":    "IP_NOT_ALLOWED",
		})
	}
}

// isLocalhost Check if IP is localhost
func isLocalhost(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ip == "localhost"
	}
	return parsedIP.IsLoopback()
}

// isAllowedIP Check if IP is loopback or in the allowlist (supports CIDR)
func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	for _, allowed := range l.ips {
		if allowed.Equal(parsedIP) {
			return true
		}
	}
	for _, ipNet := range l.nets {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	return false
}
