package mqttc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocols an MQTT-over-WebSocket endpoint must offer.
var DefaultSubprotocols = []string{"mqtt", "mqttv3.1"}

// ProbeResult describes a WebSocket handshake with an MQTT endpoint.
type ProbeResult struct {
	Status      int
	Subprotocol string
	Elapsed     time.Duration
}

// ProbeWebSocket performs the WebSocket upgrade against an MQTT endpoint and
// reports which subprotocol the server picked, without speaking MQTT.
func ProbeWebSocket(ctx context.Context, url string, subprotocols []string, insecure bool) (*ProbeResult, error) {
	if len(subprotocols) == 0 {
		subprotocols = DefaultSubprotocols
	}
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     subprotocols,
	}
	if insecure {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	start := time.Now()
	conn, resp, err := d.DialContext(ctx, url, nil)
	res := &ProbeResult{Elapsed: time.Since(start)}
	if resp != nil {
		res.Status = resp.StatusCode
	}
	if err != nil {
		return res, fmt.Errorf("websocket handshake with %s: %w", url, err)
	}
	defer conn.Close()

	res.Subprotocol = conn.Subprotocol()
	if res.Subprotocol == "" {
		return res, fmt.Errorf("websocket endpoint %s accepted none of %v", url, subprotocols)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return res, nil
}
