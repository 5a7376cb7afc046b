package bridge

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRelayTimeoutSeconds applies when a request carries no timeout.
const DefaultRelayTimeoutSeconds = 10

// RelayRequest is the NATS request payload: one admin REST call. Path is
// relative to /ima/v1/.
type RelayRequest struct {
	ID     string     `json:"id"`
	Method string     `json:"method"`
	Path   string     `json:"path"`
	Query  url.Values `json:"query,omitempty"`

	// Body travels base64 encoded so file uploads survive the trip.
	Body           []byte `json:"body,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// RelayResponse is the reply to a RelayRequest. Status is zero when the admin
// endpoint could not be reached, in which case Error says why. A request the
// responder refuses gets status 400 and an Error without a Body.
type RelayResponse struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Subject is where the responder for server listens.
func Subject(base, server string) string {
	return strings.TrimSuffix(base, ".") + "." + server + ".admin"
}

var serverNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidServerName reports whether name can be used as a subject token.
func ValidServerName(name string) bool {
	return serverNameRe.MatchString(name)
}

// Internal metrics
var (
	proxyRequest = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "natsambassador",
			Name:      "requests_total",
			Help:      "No of request handled by NATS ambassador handler",
		},
		[]string{
			"subject",
			"code",
		},
	)

	proxyReply = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "natsambassador",
			Name:      "replies_total",
			Help:      "No of replies handled by NATS ambassador handler",
		},
		[]string{
			"subject",
			"code",
		},
	)
)

// Collectors returns the relay counters for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{proxyRequest, proxyReply}
}
