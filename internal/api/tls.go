package api

import (
	"crypto/tls"
	"fmt"

	"github.com/AaronLay10/carla-go/carla"
)

// TLSFiles holds certificate and key paths.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// TLSFilesFromEnv reads CARLA_TLS_CERT and CARLA_TLS_KEY. It reports false
// unless both are set.
func TLSFilesFromEnv(lookup carla.LookupFunc) (TLSFiles, bool) {
	if lookup == nil {
		return TLSFiles{}, false
	}
	cert, _ := lookup("CARLA_TLS_CERT")
	key, _ := lookup("CARLA_TLS_KEY")
	if cert == "" || key == "" {
		return TLSFiles{}, false
	}
	return TLSFiles{CertFile: cert, KeyFile: key}, true
}

// Load reads the key pair into a server tls.Config.
func (f TLSFiles) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
