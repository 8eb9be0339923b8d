package apiserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// certRotationWarning is the window before expiry within which
// CertNeedsRotation reports true (ListenAndServeTLS then logs a warning),
// generalizing the teacher's certRotationThreshold.
const certRotationWarning = 30 * 24 * time.Hour

// LoadServerCert loads a PEM certificate/key pair for ListenAndServeTLS,
// generalizing the teacher's LoadCertFromFile: there it kept one node
// certificate per cluster member, here it loads the single certificate the
// apiserver terminates TLS with.
func LoadServerCert(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("apiserver: failed to load TLS certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("apiserver: failed to parse TLS certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return cert, nil
}

// CertNeedsRotation reports whether cert expires within certRotationWarning.
func CertNeedsRotation(cert tls.Certificate) bool {
	if cert.Leaf == nil {
		return true
	}
	return time.Until(cert.Leaf.NotAfter) < certRotationWarning
}
