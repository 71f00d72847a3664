package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/kawaiiTaiga/project-SABA/config"
	"github.com/kawaiiTaiga/project-SABA/pkg/tlsutil"
	"github.com/kawaiiTaiga/project-SABA/transport"
	"github.com/kawaiiTaiga/project-SABA/transport/mqtt"
	"github.com/kawaiiTaiga/project-SABA/transport/nats"
)

func dialTransport(o *globalOptions, logger *slog.Logger) (transport.Client, error) {
	tlsCfg, err := tlsutil.LoadClientTLSConfig(o.clientTLS())
	if err != nil {
		return nil, err
	}
	clientID := o.clientID
	if clientID == "" {
		clientID = fmt.Sprintf("sabactl-%d", os.Getpid())
	}

	switch o.transport {
	case config.TransportMQTT:
		port := o.port
		if port == 0 {
			port = config.DefaultMQTTPort
		}
		return mqtt.New(mqtt.Config{
			Host:     o.host,
			Port:     port,
			ClientID: clientID,
			Username: o.username,
			Password: o.password,
			TLS:      tlsCfg,
		}, logger), nil

	case config.TransportNATS:
		port := o.port
		if port == 0 {
			port = config.DefaultNATSPort
		}
		scheme := "nats"
		if tlsCfg != nil {
			scheme = "tls"
		}
		return nats.New(nats.Config{
			URL:      scheme + "://" + net.JoinHostPort(o.host, strconv.Itoa(port)),
			Name:     clientID,
			Username: o.username,
			Password: o.password,
			TLS:      tlsCfg,
		}, logger), nil
	}
	return nil, fmt.Errorf("unsupported transport %q (mqtt, nats)", o.transport)
}
