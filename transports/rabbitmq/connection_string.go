package rabbitmq

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionConfiguration is a parsed connection string
type ConnectionConfiguration struct {
	Host               string
	Port               int
	VirtualHost        string
	UserName           string
	Password           string
	RequestedHeartbeat time.Duration
	UseTLS             bool
}

// ParseConnectionString accepts an amqp:// or amqps:// URI, or the
// "host=broker;port=5672;virtualHost=/;userName=guest;password=guest" form.
// Keys are case-insensitive. Unknown keys and a missing host are errors.
func ParseConnectionString(connectionString string) (ConnectionConfiguration, error) {
	s := strings.TrimSpace(connectionString)
	if s == "" {
		return ConnectionConfiguration{}, fmt.Errorf("%w: connection string is empty", rabbitmq.ErrInvalidConfiguration)
	}

	if strings.HasPrefix(s, "amqp://") || strings.HasPrefix(s, "amqps://") {
		return parseURI(s)
	}

	return parsePairs(s)
}

func defaultConfiguration() ConnectionConfiguration {
	return ConnectionConfiguration{
		Port:               5672,
		VirtualHost:        "/",
		UserName:           "guest",
		Password:           "guest",
		RequestedHeartbeat: 10 * time.Second,
	}
}

// parseURI reads the URI form with the client library's rules. The library
// falls back to localhost for a URI without a host; here that is an error.
func parseURI(s string) (ConnectionConfiguration, error) {
	uri, err := amqp.ParseURI(s)
	if err != nil {
		return ConnectionConfiguration{}, fmt.Errorf("%w: %v", rabbitmq.ErrInvalidConfiguration, err)
	}

	u, err := url.Parse(s)
	if err != nil {
		return ConnectionConfiguration{}, fmt.Errorf("%w: %v", rabbitmq.ErrInvalidConfiguration, err)
	}
	if u.Hostname() == "" {
		return ConnectionConfiguration{}, fmt.Errorf("%w: connection string has no host", rabbitmq.ErrInvalidConfiguration)
	}
	if uri.Port < 1 || uri.Port > 65535 {
		return ConnectionConfiguration{}, fmt.Errorf("%w: invalid port %d", rabbitmq.ErrInvalidConfiguration, uri.Port)
	}

	cfg := defaultConfiguration()
	cfg.Host = uri.Host
	cfg.Port = uri.Port
	cfg.VirtualHost = uri.Vhost
	cfg.UserName = uri.Username
	cfg.Password = uri.Password
	cfg.UseTLS = uri.Scheme == "amqps"

	if hb := u.Query().Get("heartbeat"); hb != "" {
		seconds, err := strconv.Atoi(hb)
		if err != nil || seconds < 0 {
			return ConnectionConfiguration{}, fmt.Errorf("%w: invalid heartbeat %q", rabbitmq.ErrInvalidConfiguration, hb)
		}
		cfg.RequestedHeartbeat = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

func parsePairs(s string) (ConnectionConfiguration, error) {
	cfg := defaultConfiguration()
	portSet := false

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionConfiguration{}, fmt.Errorf("%w: %q is not a key=value pair", rabbitmq.ErrInvalidConfiguration, part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "host":
			cfg.Host = value
		case "port":
			port, err := parsePort(value)
			if err != nil {
				return ConnectionConfiguration{}, err
			}
			cfg.Port = port
			portSet = true
		case "virtualhost":
			cfg.VirtualHost = value
		case "username":
			cfg.UserName = value
		case "password":
			cfg.Password = value
		case "requestedheartbeat":
			seconds, err := strconv.Atoi(value)
			if err != nil || seconds < 0 {
				return ConnectionConfiguration{}, fmt.Errorf("%w: invalid requestedHeartbeat %q", rabbitmq.ErrInvalidConfiguration, value)
			}
			cfg.RequestedHeartbeat = time.Duration(seconds) * time.Second
		case "usetls":
			useTLS, err := strconv.ParseBool(value)
			if err != nil {
				return ConnectionConfiguration{}, fmt.Errorf("%w: invalid useTls %q", rabbitmq.ErrInvalidConfiguration, value)
			}
			cfg.UseTLS = useTLS
		default:
			return ConnectionConfiguration{}, fmt.Errorf("%w: unknown connection string key %q", rabbitmq.ErrInvalidConfiguration, key)
		}
	}

	if cfg.Host == "" {
		return ConnectionConfiguration{}, fmt.Errorf("%w: connection string has no host", rabbitmq.ErrInvalidConfiguration)
	}

	// host may carry the port as host:port
	if h, p, err := net.SplitHostPort(cfg.Host); err == nil {
		port, err := parsePort(p)
		if err != nil {
			return ConnectionConfiguration{}, err
		}
		cfg.Host = h
		if !portSet {
			cfg.Port = port
		}
	}

	if cfg.UseTLS && !portSet && cfg.Port == 5672 {
		cfg.Port = 5671
	}

	return cfg, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", rabbitmq.ErrInvalidConfiguration, s)
	}
	return port, nil
}

// URI returns the configuration as an AMQP URI
func (c ConnectionConfiguration) URI() amqp.URI {
	scheme := "amqp"
	if c.UseTLS {
		scheme = "amqps"
	}

	return amqp.URI{
		Scheme:   scheme,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.UserName,
		Password: c.Password,
		Vhost:    c.VirtualHost,
	}
}

// URL returns the URI the connections dial
func (c ConnectionConfiguration) URL() string {
	return c.URI().String()
}
