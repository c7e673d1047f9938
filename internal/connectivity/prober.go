package connectivity

import (
	"context"
	"net/http"
	"time"

	"resilient/internal/logging"

	"github.com/rs/zerolog"
)

// Prober polls a health URL and reports reachability as a Source. Any answer
// below 500 counts as online.
type Prober struct {
	*Manual
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewProber(url string, interval, timeout time.Duration, initial bool, logger *zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Prober{
		Manual:     NewManual(initial),
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.Component(logger, "prober"),
	}
}

// Probe performs one health check.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("build probe request")
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", p.url).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().Str("url", p.url).Dur("interval", p.interval).Msg("prober started")
	defer p.logger.Info().Msg("prober stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		p.Set(online)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
