package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// hostResolver tracks the addresses of the remote write host and reports when they change
type hostResolver struct {
	host   string
	logger *zap.Logger

	racing          bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string

	mu          sync.Mutex
	resolvedIPs []string
	lastResolve time.Time
	cached      []string
	cachedUntil time.Time
}

func newHostResolver(host string, config Config, logger *zap.Logger) *hostResolver {
	return &hostResolver{
		host:            host,
		logger:          logger,
		racing:          config.DNSEnable,
		cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
		refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
		timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
		udpServers:      slices.Clone(config.DNSUDPServers),
		tlsServers:      slices.Clone(config.DNSTLSServers),
		dohEndpoints:    slices.Clone(config.DNSDoHEndpoints),
	}
}

// enabled reports whether a background refresh loop is worth running
func (r *hostResolver) enabled() bool {
	return r.racing && r.host != "" && net.ParseIP(r.host) == nil
}

// refresh resolves the host and reports whether the caller should rebuild its client.
// Unforced calls are throttled to one per minute.
func (r *hostResolver) refresh(ctx context.Context, force bool) bool {
	if r.host == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(r.lastResolve) < time.Minute {
		return false
	}

	if !force && r.cached != nil && now.Before(r.cachedUntil) {
		r.lastResolve = now
		if slices.Equal(r.cached, r.resolvedIPs) {
			return false
		}
		r.resolvedIPs = r.cached
		r.logger.Info("dns cache hit", zap.String("host", r.host), zap.Strings("ips", r.cached))
		return true
	}

	var (
		ips []string
		err error
	)
	if r.racing {
		ips, err = r.resolveFastest(ctx)
	} else {
		ips, err = lookupSystem(ctx, r.host)
	}
	r.lastResolve = now

	if err != nil || len(ips) == 0 {
		r.logger.Warn("dns lookup failed", zap.String("host", r.host), zap.Error(err))
		return false
	}

	changed := !slices.Equal(ips, r.resolvedIPs)
	r.resolvedIPs = ips
	if r.racing {
		r.cached = ips
		r.cachedUntil = now.Add(r.cacheTTL)
	}
	return changed || force
}

// addresses returns the last resolved address set
func (r *hostResolver) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.resolvedIPs)
}

// resolveFastest queries every configured resolver at once and keeps the first answer
func (r *hostResolver) resolveFastest(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}
	queries := make([]func(context.Context) ([]string, error), 0,
		1+len(r.udpServers)+len(r.tlsServers)+len(r.dohEndpoints))
	for _, srv := range r.udpServers {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchangeDNS(ctx, r.host, srv, "udp", r.timeout)
		})
	}
	for _, srv := range r.tlsServers {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchangeDNS(ctx, r.host, srv, "tcp-tls", r.timeout)
		})
	}
	for _, ep := range r.dohEndpoints {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchangeDoH(ctx, r.host, ep)
		})
	}
	queries = append(queries, func(ctx context.Context) ([]string, error) {
		return lookupSystem(ctx, r.host)
	})

	ch := make(chan result, len(queries))
	for _, q := range queries {
		go func() {
			ips, err := q(ctx)
			ch <- result{ips, err}
		}()
	}

	var firstErr error
	for range queries {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns result for %s", r.host)
	}
	return nil, firstErr
}

func lookupSystem(ctx context.Context, host string) ([]string, error) {
	netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func exchangeDNS(ctx context.Context, host, server, network string, timeout time.Duration) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Net: network, Timeout: timeout}
	resp, _, err := c.ExchangeContext(ctx, q, server)
	if err != nil {
		return nil, fmt.Errorf("%s dns query to %s failed: %w", network, server, err)
	}
	return answerIPs(resp)
}

func exchangeDoH(ctx context.Context, host, endpoint string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	payload, err := q.Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var msg dns.Msg
	if err := msg.Unpack(body); err != nil {
		return nil, err
	}
	return answerIPs(&msg)
}

func answerIPs(msg *dns.Msg) ([]string, error) {
	if msg == nil || msg.Rcode != dns.RcodeSuccess {
		rcode := -1
		if msg != nil {
			rcode = msg.Rcode
		}
		return nil, fmt.Errorf("dns rcode: %d", rcode)
	}
	ips := make([]string, 0, len(msg.Answer))
	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}
