package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/sweep/pkg/api"
)

// File names inside a certificate directory
const (
	CertFileName = "node.crt"
	KeyFileName  = "node.key"
	CAFileName   = "ca.crt"
)

// Certificate rotation threshold: rotate when less than 30 days remaining
const certRotationThreshold = 30 * 24 * time.Hour

// Files returns the TLS file locations of a certificate directory
func Files(certDir string) api.TLSFiles {
	return api.TLSFiles{
		CertFile: filepath.Join(certDir, CertFileName),
		KeyFile:  filepath.Join(certDir, KeyFileName),
		CAFile:   filepath.Join(certDir, CAFileName),
	}
}

// SaveNodeCert writes a node key pair and the CA certificate to certDir
// and returns their locations
func SaveNodeCert(cert *tls.Certificate, caCert []byte, certDir string) (api.TLSFiles, error) {
	files := Files(certDir)
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return files, fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Certificate[0],
	})
	if err := os.WriteFile(files.CertFile, certPEM, 0600); err != nil {
		return files, fmt.Errorf("failed to write certificate: %w", err)
	}

	privateKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return files, fmt.Errorf("private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(files.KeyFile, keyPEM, 0600); err != nil {
		return files, fmt.Errorf("failed to write private key: %w", err)
	}

	return files, SaveCACertToFile(caCert, certDir)
}

// LoadCertFromFile loads the node key pair of certDir
func LoadCertFromFile(certDir string) (*tls.Certificate, error) {
	files := Files(certDir)
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// SaveCACertToFile saves a DER CA certificate as PEM in certDir
func SaveCACertToFile(caCert []byte, certDir string) error {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}
	caPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: caCert,
	})
	if err := os.WriteFile(filepath.Join(certDir, CAFileName), caPEM, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return nil
}

// LoadCACertFromFile loads the CA certificate of certDir
func LoadCACertFromFile(certDir string) (*x509.Certificate, error) {
	caPEM, err := os.ReadFile(filepath.Join(certDir, CAFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(caPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return caCert, nil
}

// CertExists checks that certDir holds a key pair and CA certificate
func CertExists(certDir string) bool {
	files := Files(certDir)
	for _, p := range []string{files.CertFile, files.KeyFile, files.CAFile} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// CertNeedsRotation returns true if less than 30 days remain until expiry
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// ValidateCertChain validates that a certificate is signed by the CA
func ValidateCertChain(cert, ca *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if ca == nil {
		return fmt.Errorf("CA certificate is nil")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// GetCertInfo returns human-readable information about a certificate
func GetCertInfo(cert *x509.Certificate) map[string]interface{} {
	if cert == nil {
		return map[string]interface{}{"error": "certificate is nil"}
	}

	return map[string]interface{}{
		"subject":        cert.Subject.CommonName,
		"issuer":         cert.Issuer.CommonName,
		"serial_number":  cert.SerialNumber.String(),
		"not_before":     cert.NotBefore.Format(time.RFC3339),
		"not_after":      cert.NotAfter.Format(time.RFC3339),
		"is_ca":          cert.IsCA,
		"dns_names":      cert.DNSNames,
		"ip_addresses":   cert.IPAddresses,
		"needs_rotation": CertNeedsRotation(cert),
	}
}
