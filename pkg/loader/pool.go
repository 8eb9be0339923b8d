package loader

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Gateway is one candidate gateway endpoint in a pool.
type Gateway struct {
	BaseURL string
	Healthy bool
}

// GatewayPool selects among several gateway endpoints by round robin,
// skipping any an HTTP health probe has marked unhealthy. Generalizes the
// round-robin backend selection in the teacher's ingress load balancer to a
// set of read-only gateway URLs instead of service backends.
type GatewayPool struct {
	mu       sync.Mutex
	gateways []*Gateway
	index    int
	client   *http.Client
}

// NewGatewayPool returns a pool over the given base URLs, all initially
// assumed healthy until the first probe.
func NewGatewayPool(baseURLs []string) *GatewayPool {
	gws := make([]*Gateway, len(baseURLs))
	for i, u := range baseURLs {
		gws[i] = &Gateway{BaseURL: u, Healthy: true}
	}
	return &GatewayPool{
		gateways: gws,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Select returns the next healthy gateway base URL in round-robin order.
func (p *GatewayPool) Select() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.gateways)
	if n == 0 {
		return "", fmt.Errorf("loader: gateway pool is empty")
	}
	for i := 0; i < n; i++ {
		idx := (p.index + i) % n
		gw := p.gateways[idx]
		if gw.Healthy {
			p.index = (idx + 1) % n
			return gw.BaseURL, nil
		}
	}
	return "", fmt.Errorf("loader: no healthy gateway available among %d candidates", n)
}

// Probe runs an HTTP health check against every gateway's /gateway/info
// endpoint and updates Healthy accordingly. Callers typically run this on a
// ticker, independent of any one Fetch call.
func (p *GatewayPool) Probe(ctx context.Context) {
	for _, gw := range p.gateways {
		healthy := p.checkOne(ctx, gw.BaseURL)
		p.mu.Lock()
		gw.Healthy = healthy
		p.mu.Unlock()
	}
}

func (p *GatewayPool) checkOne(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/gateway/info", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Snapshot returns the current health state of every gateway, for
// diagnostics.
func (p *GatewayPool) Snapshot() []Gateway {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Gateway, len(p.gateways))
	for i, gw := range p.gateways {
		out[i] = *gw
	}
	return out
}
