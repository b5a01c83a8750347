package util

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

func GenerateRequestID() string {
	actions := []string{
		"grazing", "trekking", "humming", "spitting", "prancing",
		"carrying", "leading", "following", "resting", "alerting",
		"browsing", "foraging", "wandering", "galloping", "ambling",
	}
	llamas := []string{
		"huacaya", "suri", "vicuna", "alpaca", "guanaco",
		"woolly", "silky", "fluffy", "curly", "shaggy",
		"noble", "gentle", "swift", "steady", "proud",
	}

	group := llamas[rand.Intn(len(llamas))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", group, action, suffix)
}

// TenantKey derives the per-client identity used for rate, concurrency and
// quota accounting: the first hop of X-Forwarded-For when present, else the
// peer address, else "unknown". When trustedCIDRs is non-empty, the forwarded
// header is honoured only when the immediate peer is inside one of those
// ranges, matching olla's proxy-trust posture for GetClientIP.
func TenantKey(r *http.Request, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) string {
	if trustProxyHeaders && trustedPeer(r, trustedCIDRs) {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			return real
		}
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func trustedPeer(r *http.Request, trustedCIDRs []*net.IPNet) bool {
	if len(trustedCIDRs) == 0 {
		return true
	}
	peer := getSourceIP(r)
	return peer != nil && isIPInTrustedCIDRs(peer, trustedCIDRs)
}

func getSourceIP(r *http.Request) net.IP {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(ip)
	}
	return net.ParseIP(r.RemoteAddr)
}
