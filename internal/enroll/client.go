package enroll

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/faults"
	"github.com/edgepki/certagent/internal/pki"
)

const pemContentType = "application/x-pem-file"

const transportRetries = 2

// Client is an HTTPS Enroller: one POST per exchange, CSR PEM in the body,
// certificate PEM in the response.
type Client struct {
	cfg   config.EnrollmentConfig
	roots *x509.CertPool
	log   *zap.Logger
}

// NewClient builds a Client from the enrollment configuration. When
// ca_bundle_path is set it pins the server trust anchors; otherwise the
// system pool is used.
func NewClient(cfg config.EnrollmentConfig, log *zap.Logger) (*Client, error) {
	c := &Client{cfg: cfg, log: log}
	if cfg.CABundlePath != "" {
		raw, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(raw) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", cfg.CABundlePath)
		}
		c.roots = pool
	}
	return c, nil
}

// Enroll implements Enroller using the bootstrap token.
func (c *Client) Enroll(ctx context.Context, csrPEM []byte) ([]byte, error) {
	httpClient := c.httpClient(nil)
	header := http.Header{}
	if c.cfg.BootstrapToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.BootstrapToken)
	}
	return c.exchange(ctx, httpClient, "enroll", c.cfg.EnrollURL, csrPEM, header)
}

// Reenroll implements Enroller, presenting the existing credential as the
// TLS client certificate.
func (c *Client) Reenroll(ctx context.Context, csrPEM []byte, certPath, keyPath string) ([]byte, error) {
	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &faults.ParseError{What: "client credential", Path: certPath, Err: err}
	}
	httpClient := c.httpClient(&clientCert)
	return c.exchange(ctx, httpClient, "reenroll", c.cfg.ReenrollURL, csrPEM, http.Header{})
}

func (c *Client) httpClient(clientCert *tls.Certificate) *http.Client {
	tlsCfg := &tls.Config{RootCAs: c.roots}
	if clientCert != nil {
		tlsCfg.Certificates = []tls.Certificate{*clientCert}
	}
	timeout := 30 * time.Second
	if c.cfg.TimeoutSec > 0 {
		timeout = time.Duration(c.cfg.TimeoutSec) * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
}

// exchange POSTs the CSR and returns the certificate PEM. Transport errors
// are retried with bounded backoff inside the call; CA rejections are
// permanent for this iteration.
func (c *Client) exchange(ctx context.Context, httpClient *http.Client, op, url string, csrPEM []byte, header http.Header) ([]byte, error) {
	var certPEM []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(csrPEM))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header = header.Clone()
		req.Header.Set("Content-Type", pemContentType)

		resp, err := httpClient.Do(req)
		if err != nil {
			c.log.Warn("enrollment transport error, will retry",
				zap.String("op", op), zap.Error(err))
			return &faults.NetworkError{Op: op, URL: url, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return &faults.NetworkError{Op: op, URL: url, Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			// The CA said no. Retrying the same CSR will not change its mind.
			return backoff.Permanent(&faults.ProtocolError{
				Op:     op,
				Status: resp.StatusCode,
				Detail: strings.TrimSpace(string(body)),
			})
		}
		certPEM = body
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transportRetries), ctx)
	if err := backoff.Retry(attempt, b); err != nil {
		return nil, err
	}

	// Sanity-check the response before anyone installs it.
	if _, err := pki.ParseCertificatePEM(certPEM); err != nil {
		return nil, &faults.ProtocolError{Op: op, Detail: fmt.Sprintf("response is not a certificate: %v", err)}
	}
	return certPEM, nil
}
