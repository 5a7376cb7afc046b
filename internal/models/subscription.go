package models

// RelayRoute maps a NATS subject to the admin endpoint of one messaging
// server. The file format keeps the dapr programmatic subscription layout the
// ambassador has always read, with the route default pointing at the admin
// endpoint URL instead of an exporter.
type RelayRoute struct {
	PubSubName string            `json:"pubsubname"`
	Topic      string            `json:"topic"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Route      PubSubRoute       `json:"route"`
}

type PubSubRoute struct {
	Rules   []RouteRule `json:"rules,omitempty"`
	Default string      `json:"default,omitempty"`
}

// RouteRule sends requests whose path has the Match prefix to Path instead of
// the default endpoint.
type RouteRule struct {
	Match string `json:"match"`
	Path  string `json:"path"`
}

// Target returns the admin URL for a request path.
func (r RelayRoute) Target(path string) string {
	for _, rule := range r.Route.Rules {
		if rule.Match != "" && len(path) >= len(rule.Match) && path[:len(rule.Match)] == rule.Match {
			return rule.Path
		}
	}
	return r.Route.Default
}
