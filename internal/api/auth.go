package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"resilient/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permReadQueue       = "read:queue"
	permWriteQueue      = "write:queue"
	permRelay           = "relay"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingKey       = errors.New("missing api key header")
	errInvalidKey       = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg     config.AdminAuthConfig
	header  string
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.AdminConfig) *HTTPAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	// Keys left empty by an unset env var never authenticate.
	clients := make([]config.APIClientKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		if k.Key != "" {
			clients = append(clients, k)
		}
	}
	return &HTTPAuth{
		cfg:     cfg.Auth,
		header:  header,
		clients: clients,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if a.limiter.enabled() && !a.limiter.getLimiter(a.clientKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.header))
	if apiKey == "" {
		return errMissingKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return errInvalidKey
	}
	return checkPermissions(client, r)
}

func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, true
		}
	}
	return config.APIClientKey{}, false
}

// checkPermissions treats an empty permission list as allow-all.
func checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/relay/"):
		return permRelay
	case path == "/api/v1/queue" && r.Method == http.MethodDelete, path == "/api/v1/queue/sync":
		return permWriteQueue
	case strings.HasPrefix(path, "/api/v1/"):
		return permReadQueue
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
