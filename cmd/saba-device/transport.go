package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/kawaiiTaiga/project-SABA/config"
	"github.com/kawaiiTaiga/project-SABA/pkg/tlsutil"
	"github.com/kawaiiTaiga/project-SABA/transport"
	"github.com/kawaiiTaiga/project-SABA/transport/memory"
	"github.com/kawaiiTaiga/project-SABA/transport/mqtt"
	"github.com/kawaiiTaiga/project-SABA/transport/nats"
)

// buildClient creates the transport client selected by cfg. The memory
// transport runs against a private in-process broker.
func buildClient(cfg *config.Config, deviceID string, logger *slog.Logger) (transport.Client, error) {
	tc := cfg.Transport
	clientID := tc.ClientID
	if clientID == "" {
		clientID = deviceID
	}

	switch tc.Kind {
	case config.TransportMemory:
		logger.Warn("Using in-process memory transport, nothing leaves this process")
		return memory.NewBroker().NewClient(clientID), nil

	case config.TransportMQTT:
		tlsCfg, err := tlsutil.LoadClientTLSConfig(tc.TLS)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls: %w", err)
		}
		return mqtt.New(mqtt.Config{
			Host:           tc.EndpointHost,
			Port:           tc.EndpointPort,
			ClientID:       clientID,
			Username:       tc.Username,
			Password:       tc.Password,
			KeepAlive:      tc.KeepAlive.D(),
			ConnectTimeout: tc.ConnectTimeout.D(),
			TLS:            tlsCfg,
		}, logger), nil

	case config.TransportNATS:
		tlsCfg, err := tlsutil.LoadClientTLSConfig(tc.TLS)
		if err != nil {
			return nil, fmt.Errorf("nats tls: %w", err)
		}
		scheme := "nats"
		if tlsCfg != nil {
			scheme = "tls"
		}
		return nats.New(nats.Config{
			URL:            scheme + "://" + net.JoinHostPort(tc.EndpointHost, strconv.Itoa(tc.EndpointPort)),
			Name:           clientID,
			Username:       tc.Username,
			Password:       tc.Password,
			ConnectTimeout: tc.ConnectTimeout.D(),
			TLS:            tlsCfg,
			Bucket:         tc.Bucket,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown transport %q", tc.Kind)
}
