package uplink

import (
	"context"
	"net"
	"net/url"
	"time"
)

const probeTimeout = 2 * time.Second

// Prober answers network reachability by dialing the ingestion endpoint's
// host. Unreachable is a pacing signal for the sync engine, not an error.
type Prober struct {
	addr   string
	dialer *net.Dialer
}

// NewProber builds a prober for the endpoint URL (scheme://host[:port]).
func NewProber(endpoint string) (*Prober, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return &Prober{addr: host, dialer: &net.Dialer{Timeout: probeTimeout}}, nil
}

// Online reports whether the endpoint host currently accepts connections.
func (p *Prober) Online(ctx context.Context) bool {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
