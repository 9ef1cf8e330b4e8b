package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/flexneg/auth"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/monitoring"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Prefix roots every topic used by the network.
	Prefix     string `json:"prefix"`
	MagicWord  string `json:"magic_word"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	// AuthMethod is username_password, certificate, both or oauth2.
	AuthMethod string `json:"auth_method"`
	// OAuth2 supplies the client credentials when AuthMethod is oauth2. The
	// access token is sent as the password on every (re)connection.
	OAuth2     *auth.Conf      `json:"oauth2,omitempty"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// DiscoveryWindowMS is how long announcements are collected after the
	// discovery broadcast.
	DiscoveryWindowMS int         `json:"discovery_window_ms"`
	TLSConfig         *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.ClientID == "" {
		c.ClientID = "flexneg"
	}
	if c.Prefix == "" {
		c.Prefix = "flexneg"
	}
	if c.MagicWord == "" {
		c.MagicWord = "hello"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.DiscoveryWindowMS <= 0 {
		c.DiscoveryWindowMS = 2000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	case "oauth2":
		if c.OAuth2 == nil {
			return fmt.Errorf("auth_method oauth2 requires an oauth2 section")
		}
		if err := c.OAuth2.Validate(); err != nil {
			return fmt.Errorf("oauth2: %w", err)
		}
	default:
		return fmt.Errorf("unknown auth_method %s", c.AuthMethod)
	}
	for k, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("qos %s: %d out of range", k, q)
		}
	}
	return nil
}

func (c Config) discoveryWindow() time.Duration {
	return time.Duration(c.DiscoveryWindowMS) * time.Millisecond
}

// pahoClient is the subset of paho.Client used by the adapters.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.AuthMethod == "oauth2" && cfg.OAuth2 != nil {
		opts.SetCredentialsProvider(tokenCredentials(cfg.Username, auth.NewClientCred(*cfg.OAuth2)))
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// tokenCredentials presents a fresh access token as the password. A failed
// token request leaves the password empty so the broker rejects the attempt
// and paho retries later.
func tokenCredentials(username string, cred *auth.ClientCred) paho.CredentialsProvider {
	return func() (string, string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tok, err := cred.GetToken(ctx)
		if err != nil {
			monitoring.CaptureException(err, map[string]string{"module": "mqtt", "stage": "oauth2"})
			return username, ""
		}
		return username, tok
	}
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// conn wraps a connected paho client with JSON publishing, per-kind QoS and
// publish retries.
type conn struct {
	cli        pahoClient
	qos        map[string]byte
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
}

// dial connects to the broker. onConnect runs after every (re)connection and
// is where subscriptions are (re)established.
func dial(cfg Config, log logger.Logger, onConnect func(*conn)) (*conn, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := &conn{
		qos:        cfg.QoS,
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if onConnect != nil {
			onConnect(c)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c.cli = newMQTTClient(opts)
	if token := c.cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

func (c *conn) qosFor(kind string) byte {
	if q, ok := c.qos[kind]; ok {
		return q
	}
	return 0
}

// publish marshals v (strings and byte slices are sent raw) and publishes it,
// retrying with exponential backoff.
func (c *conn) publish(kind, topic string, retained bool, v any) error {
	var payload []byte
	switch p := v.(type) {
	case string:
		payload = []byte(p)
	case []byte:
		payload = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = b
	}
	var publishErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token := c.cli.Publish(topic, c.qosFor(kind), retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			c.log.Debugf("published %s on %s", kind, topic)
			return nil
		}
		c.log.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < c.maxRetries {
			time.Sleep(c.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

func (c *conn) subscribe(kind, topic string, h paho.MessageHandler) error {
	if token := c.cli.Subscribe(topic, c.qosFor(kind), h); token.Wait() && token.Error() != nil {
		c.log.Errorf("subscribe %s: %v", topic, token.Error())
		return token.Error()
	}
	return nil
}

func (c *conn) unsubscribe(topic string) {
	if token := c.cli.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		c.log.Errorf("unsubscribe %s: %v", topic, token.Error())
	}
}

// close gracefully closes the MQTT connection.
func (c *conn) close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
