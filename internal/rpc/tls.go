package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// ClientCredentials builds the client half of the gateway's mTLS channel:
// a root CA pool trusting the gateway's server certificate, and, when the
// certificate bundle supplied one, a client certificate/key pair for mutual
// authentication. serverName is used for certificate hostname verification;
// pass the gateway's address.
func ClientCredentials(caPEM, clientCertPEM, clientKeyPEM []byte, serverName string) (credentials.TransportCredentials, error) {
	pool := x509.NewCertPool()
	if len(caPEM) > 0 {
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("rpc: error parsing gateway CA certificate")
		}
	}

	config := &tls.Config{RootCAs: pool, ServerName: serverName}
	if len(clientCertPEM) > 0 && len(clientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(clientCertPEM, clientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("rpc: error parsing client certificate/key: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(config), nil
}

// ClientCredentialsFromFiles loads ClientCredentials' inputs from disk.
// caPath, clientCertPath and clientKeyPath may be empty: an empty caPath
// falls back to the system trust store (server-only TLS verification);
// empty client cert/key paths skip mutual auth.
func ClientCredentialsFromFiles(caPath, clientCertPath, clientKeyPath, serverName string) (credentials.TransportCredentials, error) {
	var caPEM, certPEM, keyPEM []byte
	var err error

	if caPath != "" {
		caPEM, err = os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("rpc: error reading CA certificate %q: %w", caPath, err)
		}
	} else {
		return credentials.NewTLS(&tls.Config{ServerName: serverName}), nil
	}

	if clientCertPath != "" && clientKeyPath != "" {
		certPEM, err = os.ReadFile(clientCertPath)
		if err != nil {
			return nil, fmt.Errorf("rpc: error reading client certificate %q: %w", clientCertPath, err)
		}
		keyPEM, err = os.ReadFile(clientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("rpc: error reading client key %q: %w", clientKeyPath, err)
		}
	}

	return ClientCredentials(caPEM, certPEM, keyPEM, serverName)
}
