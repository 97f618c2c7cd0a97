// Package revocation fetches, caches, and evaluates certificate revocation
// lists for the agent's single managed credential.
package revocation

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/faults"
	"github.com/edgepki/certagent/internal/fsutil"
	"github.com/edgepki/certagent/internal/pki"
)

// Status is the three-valued outcome of a revocation check.
type Status int

const (
	// StatusNotRevoked means the certificate serial was absent from a
	// well-formed CRL.
	StatusNotRevoked Status = iota
	// StatusRevoked means the serial appeared on the CRL.
	StatusRevoked
	// StatusUnknown means the check could not be completed (missing or
	// unparsable certificate or CRL). Callers decide whether unknown fails
	// open or closed.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusNotRevoked:
		return "not-revoked"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// maxCRLBytes bounds a fetched CRL so a misbehaving distribution point
// cannot exhaust memory.
const maxCRLBytes = 10 << 20

const fetchRetries = 2

// Cache manages the on-disk CRL cache. Fetches go over HTTPS with a bounded
// timeout and retry; writes go through the atomic store so the cache file is
// never observed half-written.
type Cache struct {
	store  *fsutil.Store
	client *http.Client
	clock  func() time.Time
	log    *zap.Logger
}

// NewCache creates a Cache. fetchTimeout bounds each CRL download.
func NewCache(store *fsutil.Store, fetchTimeout time.Duration, log *zap.Logger) *Cache {
	return &Cache{
		store:  store,
		client: &http.Client{Timeout: fetchTimeout},
		clock:  time.Now,
		log:    log,
	}
}

// SetClock sets the time provider (mainly for testing).
func (c *Cache) SetClock(clock func() time.Time) { c.clock = clock }

// SetHTTPClient replaces the HTTP client (mainly for testing).
func (c *Cache) SetHTTPClient(client *http.Client) { c.client = client }

// Refresh ensures the cache file at cachePath is no older than maxAge,
// fetching from url when it is. It reports whether a fetch happened.
//
// Fetch and parse failures are soft: a stale-but-present cache is preferred
// over blocking certificate evaluation, so failures are logged and Refresh
// reports false instead of raising.
func (c *Cache) Refresh(ctx context.Context, url, cachePath string, maxAge time.Duration) bool {
	if info, err := os.Stat(cachePath); err == nil {
		age := c.clock().Sub(info.ModTime())
		if age < maxAge {
			c.log.Debug("CRL cache fresh, skipping fetch",
				zap.String("path", cachePath),
				zap.Duration("age", age))
			return false
		}
	}

	raw, err := c.fetch(ctx, url)
	if err != nil {
		c.log.Warn("CRL fetch failed, keeping existing cache",
			zap.String("url", url),
			zap.Error(err))
		return false
	}

	rl, err := parseCRL(raw)
	if err != nil {
		c.log.Warn("fetched CRL failed validation, keeping existing cache",
			zap.String("url", url),
			zap.Error(err))
		return false
	}

	if err := c.store.WriteAtomic(cachePath, raw, 0o644); err != nil {
		c.log.Warn("failed to write CRL cache",
			zap.String("path", cachePath),
			zap.Error(err))
		return false
	}

	c.log.Info("CRL cache refreshed",
		zap.String("url", url),
		zap.Int("revoked_serials", len(rl.RevokedCertificateEntries)),
		zap.Time("next_update", rl.NextUpdate))
	return true
}

// IsRevoked compares the certificate at certPath against the cached CRL at
// crlPath. Any failure to load or parse either side yields StatusUnknown;
// revocation checking must never become a crash vector.
func (c *Cache) IsRevoked(certPath, crlPath string) Status {
	cert, err := pki.LoadCertificate(certPath)
	if err != nil {
		c.log.Warn("revocation status unknown: cannot load certificate",
			zap.String("path", certPath),
			zap.Error(err))
		return StatusUnknown
	}

	raw, err := os.ReadFile(crlPath)
	if err != nil {
		c.log.Warn("revocation status unknown: cannot read CRL cache",
			zap.String("path", crlPath),
			zap.Error(err))
		return StatusUnknown
	}

	rl, err := parseCRL(raw)
	if err != nil {
		c.log.Warn("revocation status unknown: cannot parse CRL cache",
			zap.String("path", crlPath),
			zap.Error(err))
		return StatusUnknown
	}

	if now := c.clock(); !rl.NextUpdate.IsZero() && now.After(rl.NextUpdate) {
		c.log.Warn("CRL cache past its next_update, using anyway",
			zap.String("path", crlPath),
			zap.Time("next_update", rl.NextUpdate))
	}

	for _, entry := range rl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return StatusRevoked
		}
	}
	return StatusNotRevoked
}

// fetch downloads the CRL with bounded retry on transport errors.
func (c *Cache) fetch(ctx context.Context, url string) ([]byte, error) {
	var raw []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return &faults.NetworkError{Op: "crl fetch", URL: url, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &faults.NetworkError{Op: "crl fetch", URL: url,
				Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxCRLBytes+1))
		if err != nil {
			return &faults.NetworkError{Op: "crl read", URL: url, Err: err}
		}
		if len(raw) > maxCRLBytes {
			return backoff.Permanent(fmt.Errorf("CRL exceeds %d bytes", maxCRLBytes))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseCRL accepts a CRL in DER or PEM form and validates its structure:
// an issuer must be present and the update window must parse.
func parseCRL(raw []byte) (*x509.RevocationList, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "X509 CRL" {
			return nil, &faults.ParseError{What: "CRL",
				Err: fmt.Errorf("unexpected PEM block %q", block.Type)}
		}
		der = block.Bytes
	}
	rl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, &faults.ParseError{What: "CRL", Err: err}
	}
	if len(rl.RawIssuer) == 0 || rl.Issuer.String() == "" {
		return nil, &faults.ParseError{What: "CRL", Err: errors.New("missing issuer")}
	}
	if rl.ThisUpdate.IsZero() {
		return nil, &faults.ParseError{What: "CRL", Err: errors.New("missing thisUpdate")}
	}
	return rl, nil
}
