package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// DefaultUserAgent mimics a desktop browser; some sites reject obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const (
	defaultTimeout = 30 * time.Second
	maxDetailLen   = 200
	maxDrainBytes  = 64 << 10
)

type HTTPChecker struct {
	Client    *http.Client
	UserAgent string
	// DefaultTimeout applies to targets without their own timeout.
	DefaultTimeout time.Duration
	// Diagnose classifies the host after a transport failure. Nil disables it.
	Diagnose func(ctx context.Context, host string) string
}

func NewHTTPChecker(userAgent string) *HTTPChecker {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPChecker{
		Client:         &http.Client{},
		UserAgent:      userAgent,
		DefaultTimeout: defaultTimeout,
		Diagnose:       DiagnoseDNS,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, target domain.Target) domain.CheckResult {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = h.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	res := domain.CheckResult{URL: target.URL}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, target.URL, nil)
	if err != nil {
		res.Detail = truncate("invalid request: " + err.Error())
		res.CheckedAt = time.Now().UTC()
		return res
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	res.Latency = time.Since(start)
	res.CheckedAt = time.Now().UTC()
	if err != nil {
		res.Detail = describeTransportError(ctx, err, timeout)
		if h.Diagnose != nil && ctx.Err() == nil {
			if class := h.Diagnose(ctx, hostOf(target.URL)); class != "" {
				res.Detail = truncate(res.Detail + " dns=" + class)
			}
		}
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	res.StatusCode = resp.StatusCode
	res.Up = resp.StatusCode >= 200 && resp.StatusCode < 400
	res.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return res
}

func describeTransportError(parent context.Context, err error, timeout time.Duration) string {
	if parent.Err() != nil {
		return "canceled: " + parent.Err().Error()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	if isTLSError(err) {
		return truncate("tls error: " + unwrapURLError(err).Error())
	}
	return truncate("connection failed: " + unwrapURLError(err).Error())
}

func isTLSError(err error) bool {
	var (
		verr  *tls.CertificateVerificationError
		rerr  tls.RecordHeaderError
		uaerr x509.UnknownAuthorityError
		herr  x509.HostnameError
		cierr x509.CertificateInvalidError
	)
	return errors.As(err, &verr) || errors.As(err, &rerr) || errors.As(err, &uaerr) ||
		errors.As(err, &herr) || errors.As(err, &cierr)
}

func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen]
}

// hostOf pulls the hostname from a URL string.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(raw)
	}
	return u.Hostname()
}
