package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

const (
	certValidityDur = 10 * 365 * 24 * time.Hour
	// pinnedServerName is baked into generated certificates; peers are dialed by IP so it is never matched against the host.
	pinnedServerName = "peer-drop"
)

var ErrNoTrustedCerts = errors.New("no certificates found in CA file")

// ServerTLSConfig loads the pinned server certificate and key.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server keypair: %w", err)
	}
	return NewServerTLSConfig(cert), nil
}

func NewServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{protocol.ALPN},
	}
}

// ClientTLSConfig trusts only the certificates in caFile.
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading ca file: %w", err)
	}
	return NewClientTLSConfig(caPEM)
}

func NewClientTLSConfig(caPEM []byte) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, ErrNoTrustedCerts
	}

	return &tls.Config{
		// Host names are not checked; VerifyConnection verifies the chain against the pinned pool instead.
		InsecureSkipVerify: true,
		VerifyConnection:   verifyPinned(pool),
		MinVersion:         tls.VersionTLS12,
		NextProtos:         []string{protocol.ALPN},
		ServerName:         pinnedServerName,
	}, nil
}

func verifyPinned(pool *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("peer presented no certificate")
		}

		intermediates := x509.NewCertPool()
		for _, c := range cs.PeerCertificates[1:] {
			intermediates.AddCert(c)
		}

		_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return fmt.Errorf("untrusted peer certificate: %w", err)
		}
		return nil
	}
}

// GenerateSelfSignedCert returns a self-signed certificate and key in PEM form,
// usable both as the server keypair and as the client's pinned CA.
func GenerateSelfSignedCert() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		BasicConstraintsValid: true,
		DNSNames:              []string{pinnedServerName},
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		NotAfter:              time.Now().Add(certValidityDur),
		NotBefore:             time.Now().Add(-time.Hour),
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: pinnedServerName, Organization: []string{"peer-drop"}},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Bytes: certDER, Type: "CERTIFICATE"})
	keyPEM = pem.EncodeToMemory(&pem.Block{Bytes: keyDER, Type: "EC PRIVATE KEY"})
	return certPEM, keyPEM, nil
}
