package main

import (
	"crypto/elliptic"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opd-ai/ubimqtt/crypto"
)

// Subcommands
const (
	cmdKeygen    = "keygen"
	cmdAnnounce  = "announce"
	cmdPublish   = "publish"
	cmdSubscribe = "subscribe"
)

var errHelp = errors.New("help requested")

// CLI configuration
type CLIConfig struct {
	command      string
	configFile   string
	server       string
	clientID     string
	username     string
	password     string
	keystoreDir  string
	keyName      string
	curve        string
	publisher    string
	topic        string
	message      string
	signWith     string
	encryptFor   string
	trustKeys    string
	decryptWith  string
	qos          uint
	retain       bool
	timeout      time.Duration
	logLevel     string
	replayPolicy string
	bufferWindow int
}

// FileConfig is the TOML configuration file layout.
type FileConfig struct {
	Server       string `toml:"server"`
	ClientID     string `toml:"client_id"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	Keystore     string `toml:"keystore"`
	LogLevel     string `toml:"log_level"`
	ReplayPolicy string `toml:"replay_policy"`
	BufferWindow int    `toml:"buffer_window_seconds"`
}

// parseCLIFlags parses the subcommand and its flags from args, which must
// not include the program name.
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, error) {
	if len(args) == 0 {
		return nil, errHelp
	}

	config := &CLIConfig{command: args[0]}
	switch config.command {
	case cmdKeygen, cmdAnnounce, cmdPublish, cmdSubscribe:
	case "help", "-h", "-help", "--help":
		return nil, errHelp
	default:
		return nil, fmt.Errorf("unknown command %q", config.command)
	}

	fs := flag.NewFlagSet(config.command, flag.ContinueOnError)
	fs.SetOutput(output)

	// Connection configuration
	fs.StringVar(&config.configFile, "config", "", "TOML configuration file")
	fs.StringVar(&config.server, "server", "localhost:1883", "MQTT broker address")
	fs.StringVar(&config.clientID, "client-id", "", "MQTT client id (default: random)")
	fs.StringVar(&config.username, "username", "", "MQTT username")
	fs.StringVar(&config.password, "password", "", "MQTT password")
	fs.DurationVar(&config.timeout, "timeout", 10*time.Second, "Timeout for connect, publish and subscribe")

	// Key configuration
	fs.StringVar(&config.keystoreDir, "keystore", "", "Encrypted key store directory")
	fs.StringVar(&config.keyName, "name", "", "Key pair name in the key store")
	fs.StringVar(&config.curve, "curve", "P-521", "Curve for keygen (P-256, P-384, P-521)")
	fs.StringVar(&config.publisher, "publisher", "", "Publisher name for key announcements")

	// Message configuration
	fs.StringVar(&config.topic, "topic", "", "Topic to publish or subscribe to")
	fs.StringVar(&config.message, "message", "", "Message to publish")
	fs.StringVar(&config.signWith, "sign", "", "Sign with this key store key")
	fs.StringVar(&config.encryptFor, "encrypt-for", "", "Encrypt for the public key in this PEM file")
	fs.StringVar(&config.trustKeys, "trust", "", "Comma separated PEM files of trusted signing keys")
	fs.StringVar(&config.decryptWith, "decrypt", "", "Decrypt with this key store key")
	fs.UintVar(&config.qos, "qos", 1, "MQTT quality of service (0, 1, 2)")
	fs.BoolVar(&config.retain, "retain", false, "Publish as a retained message")

	// Replay protection
	fs.StringVar(&config.replayPolicy, "replay-policy", "time", "Replay window policy (time, capacity)")
	fs.IntVar(&config.bufferWindow, "buffer-window", crypto.DefaultBufferWindowSeconds, "Replay window in seconds")

	// Logging configuration
	fs.StringVar(&config.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}

	if config.configFile != "" {
		file, err := loadFileConfig(config.configFile)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		applyFileConfig(config, file, set)
	}

	return config, nil
}

// loadFileConfig decodes a TOML configuration file, rejecting unknown keys.
func loadFileConfig(path string) (*FileConfig, error) {
	var file FileConfig
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config %s: %v", path, undecoded)
	}
	return &file, nil
}

// applyFileConfig copies file values into config for every flag the user
// did not set explicitly.
func applyFileConfig(config *CLIConfig, file *FileConfig, set map[string]bool) {
	apply := func(flagName, value string, target *string) {
		if value != "" && !set[flagName] {
			*target = value
		}
	}
	apply("server", file.Server, &config.server)
	apply("client-id", file.ClientID, &config.clientID)
	apply("username", file.Username, &config.username)
	apply("password", file.Password, &config.password)
	apply("keystore", file.Keystore, &config.keystoreDir)
	apply("log-level", file.LogLevel, &config.logLevel)
	apply("replay-policy", file.ReplayPolicy, &config.replayPolicy)

	if file.BufferWindow > 0 && !set["buffer-window"] {
		config.bufferWindow = file.BufferWindow
	}
}

// validateCLIConfig validates the CLI configuration for its subcommand.
func validateCLIConfig(config *CLIConfig) error {
	if config.timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if config.qos > 2 {
		return fmt.Errorf("invalid qos: must be 0, 1 or 2")
	}
	if config.bufferWindow <= 0 {
		return fmt.Errorf("buffer window must be positive")
	}
	if _, err := crypto.ParseReplayPolicy(config.replayPolicy); err != nil {
		return err
	}

	switch config.command {
	case cmdKeygen:
		if config.keystoreDir == "" || config.keyName == "" {
			return fmt.Errorf("keygen requires -keystore and -name")
		}
		if _, err := parseCurve(config.curve); err != nil {
			return err
		}

	case cmdAnnounce:
		if config.keystoreDir == "" || config.keyName == "" {
			return fmt.Errorf("announce requires -keystore and -name")
		}
		if config.publisher == "" {
			return fmt.Errorf("announce requires -publisher")
		}

	case cmdPublish:
		if config.topic == "" {
			return fmt.Errorf("publish requires -topic")
		}
		if config.signWith != "" && config.encryptFor != "" {
			return fmt.Errorf("-sign and -encrypt-for are mutually exclusive")
		}
		if config.signWith != "" && config.keystoreDir == "" {
			return fmt.Errorf("-sign requires -keystore")
		}

	case cmdSubscribe:
		if config.topic == "" {
			return fmt.Errorf("subscribe requires -topic")
		}
		modes := 0
		for _, v := range []string{config.publisher, config.trustKeys, config.decryptWith} {
			if v != "" {
				modes++
			}
		}
		if modes > 1 {
			return fmt.Errorf("-publisher, -trust and -decrypt are mutually exclusive")
		}
		if config.decryptWith != "" && config.keystoreDir == "" {
			return fmt.Errorf("-decrypt requires -keystore")
		}
	}

	if config.command != cmdKeygen && strings.TrimSpace(config.server) == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	return nil
}

func parseCurve(name string) (elliptic.Curve, error) {
	switch strings.ToUpper(name) {
	case "P-256", "P256":
		return elliptic.P256(), nil
	case "P-384", "P384":
		return elliptic.P384(), nil
	case "P-521", "P521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", name)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
