// routes_middleware.go - Host-basierte Zulassung fuer den Router
//
// Ein Inference-Server, der nur auf Loopback gebunden ist, soll auch
// nur von lokalen Aufrufern erreichbar sein: DNS-Rebinding von einer
// fremden Origin auf 127.0.0.1 laeuft sonst an CORS vorbei. Bindet der
// Betreiber auf eine Nicht-Loopback-Adresse, hat er sich entschieden,
// und die Pruefung entfaellt.
package server

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// localTLDs sind Suffixe, unter denen lokale Aufloesung ueblich ist.
var localTLDs = []string{".localhost", ".local", ".internal"}

// isLocalInterfaceAddr prueft, ob ip auf einem Interface dieser
// Maschine konfiguriert ist.
func isLocalInterfaceAddr(ip netip.Addr) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		parsed, _, err := net.ParseCIDR(a.String())
		if err != nil {
			continue
		}
		if parsed.String() == ip.String() {
			return true
		}
	}
	return false
}

// allowedHostName prueft Hostnamen (keine IP-Literale) gegen die
// lokalen Namensraeume.
func allowedHostName(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}
	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}
	for _, tld := range localTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return false
}

// allowedHostsMiddleware weist Requests mit fremdem Host-Header ab,
// solange der Server auf Loopback gebunden ist.
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if bound, err := netip.ParseAddrPort(addr.String()); err == nil && !bound.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if ip, err := netip.ParseAddr(host); err == nil {
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || isLocalInterfaceAddr(ip) {
				c.Next()
				return
			}
		} else if allowedHostName(host) {
			// Preflight-Antworten brauchen keinen Handler-Durchlauf.
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}
