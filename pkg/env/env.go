// Package env sets up a bridge from environment variables and flags.
package env

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/robotalks/crsflink/pkg/bridge"
	"github.com/robotalks/crsflink/pkg/handset"
	"github.com/robotalks/crsflink/pkg/serial"
	"github.com/robotalks/crsflink/pkg/transport"
	"github.com/robotalks/crsflink/pkg/transport/mqtt"
	"github.com/robotalks/crsflink/pkg/transport/websocket"
)

// Config provides common options to setup a bridge.
type Config struct {
	// ID identifies the bridge in status topics.
	ID string

	// Serial is the device connected to the handset.
	Serial string
	// Baud is the initial baud rate, autobaud starts from it.
	Baud int
	// HalfDuplex switches RTS around every transmission.
	HalfDuplex bool

	// Peers lists the model peers separated by comma, model 0 first.
	Peers string

	// TransportURL selects the datagram transport:
	//   mqtt://host:port/topic-prefix
	//   ws (peers are websocket URLs)
	//   loopback
	TransportURL string

	// StatusAddr is the listen address of the HTTP API. Empty disables it.
	StatusAddr string
	// StatusMQTT publishes status events to the transport broker.
	StatusMQTT bool
}

var defaultConfig = Config{
	Serial:       "/dev/ttyS0",
	Baud:         handset.DefaultBaudRates[0],
	TransportURL: "mqtt://localhost:1883/crsf/",
	StatusAddr:   ":8080",
	StatusMQTT:   true,
}

func init() {
	if val := os.Getenv("CRSF_ID"); val != "" {
		defaultConfig.ID = val
	} else {
		defaultConfig.ID = BridgeID()
	}
	if val := os.Getenv("CRSF_SERIAL"); val != "" {
		defaultConfig.Serial = val
	}
	if val := os.Getenv("CRSF_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Baud = baud
		}
	}
	if val := os.Getenv("CRSF_PEERS"); val != "" {
		defaultConfig.Peers = val
	}
	if val := os.Getenv("CRSF_TRANSPORT_URL"); val != "" {
		defaultConfig.TransportURL = val
	}
	if val, ok := os.LookupEnv("CRSF_STATUS_ADDR"); ok {
		defaultConfig.StatusAddr = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Bridge ID")
	flag.StringVar(&defaultConfig.Serial, "serial", defaultConfig.Serial, "Serial device of the handset")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Initial baud rate")
	flag.BoolVar(&defaultConfig.HalfDuplex, "half-duplex", defaultConfig.HalfDuplex, "Switch RTS for half-duplex wiring")
	flag.StringVar(&defaultConfig.Peers, "peers", defaultConfig.Peers, "Model peers separated by comma")
	flag.StringVar(&defaultConfig.TransportURL, "transport", defaultConfig.TransportURL, "Transport URL")
	flag.StringVar(&defaultConfig.StatusAddr, "http", defaultConfig.StatusAddr, "HTTP API listen address")
	flag.BoolVar(&defaultConfig.StatusMQTT, "mqtt-status", defaultConfig.StatusMQTT, "Publish status events over MQTT")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// BridgeConfig returns the bridge configuration.
func (c *Config) BridgeConfig() bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.Handset.Baud = c.Baud
	return cfg
}

// NewPeerTable parses Peers.
func (c *Config) NewPeerTable() (*transport.PeerTable, error) {
	var addrs []string
	for _, s := range strings.Split(c.Peers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			addrs = append(addrs, s)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("at least one peer is required")
	}
	return transport.NewPeerTable(addrs...)
}

// OpenSerial opens the serial port and the optional half-duplex switch.
func (c *Config) OpenSerial() (*serial.Port, handset.Duplex, error) {
	port, err := serial.Open(serial.Config{Device: c.Serial, Baud: c.Baud})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", c.Serial, err)
	}
	if !c.HalfDuplex {
		return port, nil, nil
	}
	return port, &serial.RTSDuplex{Port: port, TXHigh: true}, nil
}

// NewTransport creates the transport. The broker is returned when the
// transport runs over MQTT, and is nil otherwise.
func (c *Config) NewTransport() (transport.Transport, *mqtt.Broker, error) {
	switch c.TransportURL {
	case "ws", "websocket":
		return websocket.New(), nil, nil
	case "loopback":
		return transport.NewLoopback(64), nil, nil
	}
	u, err := url.Parse(c.TransportURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid transport URL: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "mqtts", "tcp", "ssl":
		broker, err := mqtt.Dial(c.TransportURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", u.Host, err)
		}
		return mqtt.NewTransport(broker, mqtt.DefaultMaxInflight), broker, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport URL scheme: %q", u.Scheme)
	}
}

// MustNewPeerTable creates the peer table and fails on error.
func (c *Config) MustNewPeerTable() *transport.PeerTable {
	peers, err := c.NewPeerTable()
	if err != nil {
		log.Fatalln(err)
	}
	return peers
}

// MustOpenSerial opens the serial port and fails on error.
func (c *Config) MustOpenSerial() (*serial.Port, handset.Duplex) {
	port, duplex, err := c.OpenSerial()
	if err != nil {
		log.Fatalln(err)
	}
	return port, duplex
}

// MustNewTransport creates the transport and fails on error.
func (c *Config) MustNewTransport() (transport.Transport, *mqtt.Broker) {
	tr, broker, err := c.NewTransport()
	if err != nil {
		log.Fatalln(err)
	}
	return tr, broker
}
