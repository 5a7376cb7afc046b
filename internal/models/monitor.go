package models

// MonitorType names a collection under /ima/v1/monitor.
type MonitorType string

const (
	MonitorServer       MonitorType = "Server"
	MonitorConnection   MonitorType = "Connection"
	MonitorMQTTClient   MonitorType = "MQTTClient"
	MonitorSubscription MonitorType = "Subscription"
	MonitorEndpoint     MonitorType = "Endpoint"
	MonitorTopic        MonitorType = "Topic"
	MonitorQueue        MonitorType = "Queue"
	MonitorMemory       MonitorType = "Memory"
	MonitorStore        MonitorType = "Store"
	MonitorCluster      MonitorType = "Cluster"
)

// SubscriptionStat is one entry of GET /ima/v1/monitor/Subscription.
type SubscriptionStat struct {
	SubName             string  `json:"SubName"`
	TopicString         string  `json:"TopicString"`
	ClientID            string  `json:"ClientID"`
	IsDurable           bool    `json:"IsDurable"`
	IsShared            bool    `json:"IsShared,omitempty"`
	MaxMessages         int64   `json:"MaxMessages,omitempty"`
	MessagingPolicy     string  `json:"MessagingPolicy,omitempty"`
	BufferedMsgs        int64   `json:"BufferedMsgs,omitempty"`
	BufferedPercent     float64 `json:"BufferedPercent,omitempty"`
	BufferedMsgsHWM     int64   `json:"BufferedMsgsHWM,omitempty"`
	PublishedMsgs       int64   `json:"PublishedMsgs,omitempty"`
	RejectedMsgs        int64   `json:"RejectedMsgs,omitempty"`
	DiscardedMsgs       int64   `json:"DiscardedMsgs,omitempty"`
	ExpiredMsgs         int64   `json:"ExpiredMsgs,omitempty"`
	Consumers           int64   `json:"Consumers,omitempty"`
	BufferedHWMPercent  float64 `json:"BufferedHWMPercent,omitempty"`
	MessagingPolicyType string  `json:"MessagingPolicyType,omitempty"`
}

// MQTTClientStat is one entry of GET /ima/v1/monitor/MQTTClient.
type MQTTClientStat struct {
	ClientID          string `json:"ClientID"`
	IsConnected       bool   `json:"IsConnected"`
	LastConnectedTime string `json:"LastConnectedTime,omitempty"`
}

// ConnectionStat is one entry of GET /ima/v1/monitor/Connection.
type ConnectionStat struct {
	Name           string  `json:"Name"`
	Endpoint       string  `json:"Endpoint"`
	Port           int     `json:"Port"`
	Protocol       string  `json:"Protocol"`
	UserId         string  `json:"UserId"`
	ClientAddr     string  `json:"ClientAddr,omitempty"`
	ConnectionTime int64   `json:"ConnectionTime,omitempty"`
	ReadBytes      int64   `json:"ReadBytes,omitempty"`
	ReadMsg        int64   `json:"ReadMsg,omitempty"`
	WriteBytes     int64   `json:"WriteBytes,omitempty"`
	WriteMsg       int64   `json:"WriteMsg,omitempty"`
	Throughput     float64 `json:"Throughput,omitempty"`
}

// SubscriptionList wraps the Subscription collection.
type SubscriptionList struct {
	Version      string             `json:"Version"`
	Subscription []SubscriptionStat `json:"Subscription"`
}

// MQTTClientList wraps the MQTTClient collection.
type MQTTClientList struct {
	Version    string           `json:"Version"`
	MQTTClient []MQTTClientStat `json:"MQTTClient"`
}

// ConnectionList wraps the Connection collection.
type ConnectionList struct {
	Version    string           `json:"Version"`
	Connection []ConnectionStat `json:"Connection"`
}

// ServerStats is the Server monitoring document. Its fields vary between
// server releases so they are kept in a map.
type ServerStats struct {
	Version string         `json:"Version"`
	Server  map[string]any `json:"Server"`
}

// Numbers returns the numeric fields of the Server section.
func (s ServerStats) Numbers() map[string]float64 {
	out := make(map[string]float64, len(s.Server))
	for k, v := range s.Server {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case bool:
			if n {
				out[k] = 1
			} else {
				out[k] = 0
			}
		}
	}
	return out
}
