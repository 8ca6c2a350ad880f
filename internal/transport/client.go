package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

// RequestObserver is called with every outgoing request before it is sent.
// It may return a modified request; returning nil leaves the original
// request untouched.
type RequestObserver func(req *http.Request) *http.Request

// NewClient creates a new http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain.  When an observer is provided, it sees every request the client
// sends.
func NewClient(caPEM string, observer RequestObserver) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCertificatePem
		}

		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	var rt http.RoundTripper = tr
	if observer != nil {
		rt = &observedTransport{base: tr, observer: observer}
	}

	return &http.Client{
		Transport: rt,
	}, nil
}

// observedTransport passes every request through a RequestObserver before
// delegating to the base RoundTripper.
type observedTransport struct {
	base     http.RoundTripper
	observer RequestObserver
}

func (t *observedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if updated := t.observer(req); updated != nil {
		req = updated
	}
	return t.base.RoundTrip(req)
}
