// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridge relays admin REST calls over NATS: a responder next to the
// messaging servers answers relay requests, and an HTTP proxy anywhere on the
// NATS network turns plain HTTP calls into relay requests.
package bridge

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/insikl/messaging-admin-ambassador/internal/config"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// Connect dials NATS with the credentials in cfg. extra options are applied
// last so callers can replace the closed handler.
func Connect(cfg config.NATS, extra ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name(cfg.Name)}
	opts = setupConnOptions(opts)

	if cfg.Creds != "" {
		opts = append(opts, nats.UserCredentials(cfg.Creds))
	}

	// Use TLS client authentication
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		opts = append(opts, nats.ClientCert(cfg.TLSCert, cfg.TLSKey))
	}

	// Use specific CA certificate
	if cfg.TLSCACert != "" {
		opts = append(opts, nats.RootCAs(cfg.TLSCACert))
	}

	// Use Nkey authentication.
	if cfg.NKey != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	opts = append(opts, extra...)

	nc, err := nats.Connect(cfg.URLs, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("Connection successful to [%v]", nc.ConnectedUrl())
	return nc, nil
}

func setupConnOptions(opts []nats.Option) []nats.Option {
	totalWait := 5 * time.Minute
	reconnectDelay := time.Second

	opts = append(opts, nats.ReconnectWait(reconnectDelay))
	opts = append(opts, nats.MaxReconnects(int(totalWait/reconnectDelay)))
	opts = append(opts, nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
		logger.Warn("Disconnected due to:%s, will attempt reconnects for %.0fm", err, totalWait.Minutes())
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		logger.Warn("Reconnected [%s]", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ClosedHandler(func(nc *nats.Conn) {
		logger.Warn("Connection closed: %v", nc.LastError())
	}))
	return opts
}
