package utils

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseDialTarget returns the network and address to pass to dialer.
func ParseDialTarget(target string) (string, string) {
	net := "tcp"
	m1 := strings.Index(target, ":")
	m2 := strings.Index(target, ":/")
	// handle unix:addr which will fail with url.Parse
	if m1 >= 0 && m2 < 0 {
		if n := target[0:m1]; n == "unix" {
			return n, target[m1+1:]
		}
	}
	if m2 >= 0 {
		t, err := url.Parse(target)
		if err != nil {
			return net, target
		}
		scheme := t.Scheme
		addr := t.Path
		if scheme == "unix" {
			if addr == "" {
				addr = t.Host
			}
			return scheme, addr
		}
	}
	return net, target
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type retryDialer struct {
	dialer  *net.Dialer
	timeout time.Duration
	retry   int
}

func (t *retryDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < t.retry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := *t.dialer
		d.Timeout = t.timeout
		conn, err := d.DialContext(ctx, network, address)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "could not dial %s after %d attempts", address, t.retry)
}

type optFunc func(*retryDialer)

func (f optFunc) apply(d *retryDialer) {
	f(d)
}

type Option interface{ apply(*retryDialer) }

func RetryOption(r int) Option {
	return optFunc(func(d *retryDialer) {
		d.retry = r
	})
}

func TimeoutOption(timeout time.Duration) Option {
	return optFunc(func(d *retryDialer) {
		d.timeout = timeout
	})
}

func DialerOption(dialer *net.Dialer) Option {
	return optFunc(func(d *retryDialer) {
		d.dialer = dialer
	})
}

// NewDialer returns a Dialer retrying failed connection attempts, two attempts of one second each by default
func NewDialer(opts ...Option) Dialer {
	d := &retryDialer{
		timeout: time.Second,
		retry:   2,
	}
	for _, opt := range opts {
		opt.apply(d)
	}
	if d.dialer == nil {
		d.dialer = &net.Dialer{}
	}
	if d.retry < 1 {
		d.retry = 1
	}
	return d
}

// UnixContextDialer adapts a Dialer to the signature grpc.WithContextDialer expects
func UnixContextDialer(d Dialer) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		network, endpoint := ParseDialTarget(addr)
		return d.DialContext(ctx, network, endpoint)
	}
}
