// Package pki holds the PEM and key-material helpers shared by the status
// evaluator, the revocation cache, and the rotator.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/edgepki/certagent/internal/faults"
)

// KeyBits is the RSA modulus size for freshly generated credentials.
const KeyBits = 2048

// LoadCertificate reads the leaf certificate from a PEM file. The leaf is
// the first CERTIFICATE block; trailing chain certificates are ignored.
func LoadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertificatePEM(raw)
	if err != nil {
		return nil, &faults.ParseError{What: "certificate", Path: path, Err: err}
	}
	return cert, nil
}

// ParseCertificatePEM parses the first CERTIFICATE block in pemData.
func ParseCertificatePEM(pemData []byte) (*x509.Certificate, error) {
	rest := pemData
	for {
		block, r := pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
		rest = r
	}
	return nil, errors.New("no CERTIFICATE block found")
}

// GenerateKey generates a fresh RSA private key for a new credential.
func GenerateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return key, nil
}

// CreateCSR builds a PEM-encoded PKCS#10 request for the given subject,
// signed with key.
func CreateCSR(subject pkix.Name, key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: subject,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// EncodeKeyPEM renders a private key as PKCS#8 PEM.
func EncodeKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodeCertificatePEM renders a DER certificate as PEM.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
