package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ubimqtt"
	"github.com/opd-ai/ubimqtt/crypto"
	"github.com/opd-ai/ubimqtt/transport"
)

// PassphraseEnv names the environment variable holding the key store passphrase.
const PassphraseEnv = "UBIMQTT_PASSPHRASE"

// runner executes one subcommand. Its hooks are replaced in tests.
type runner struct {
	config    *CLIConfig
	logger    *logrus.Logger
	out       io.Writer
	getenv    func(string) string
	newClient func(*ubimqtt.Options) (*ubimqtt.Client, error)
}

func newRunner(config *CLIConfig, out io.Writer) (*runner, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(strings.ToLower(config.logLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.logLevel, err)
	}
	logger.SetLevel(level)

	return &runner{
		config:    config,
		logger:    logger,
		out:       out,
		getenv:    os.Getenv,
		newClient: ubimqtt.New,
	}, nil
}

func (r *runner) run(ctx context.Context) error {
	switch r.config.command {
	case cmdKeygen:
		return r.keygen()
	case cmdAnnounce:
		return r.announce(ctx)
	case cmdPublish:
		return r.publish(ctx)
	case cmdSubscribe:
		return r.subscribe(ctx)
	default:
		return fmt.Errorf("unknown command %q", r.config.command)
	}
}

func (r *runner) keygen() error {
	curve, err := parseCurve(r.config.curve)
	if err != nil {
		return err
	}

	ks, err := r.openKeyStore()
	if err != nil {
		return err
	}
	defer ks.Close()

	kp, err := crypto.GenerateKeyPair(curve)
	if err != nil {
		return err
	}
	if err := ks.StoreKeyPair(r.config.keyName, kp); err != nil {
		return err
	}

	pubPEM, err := kp.PublicPEM()
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"function": "keygen",
		"name":     r.config.keyName,
		"key":      crypto.KeyFingerprint(kp.Public),
	}).Info("Key pair stored")

	_, err = io.WriteString(r.out, pubPEM)
	return err
}

func (r *runner) announce(ctx context.Context) error {
	ks, err := r.openKeyStore()
	if err != nil {
		return err
	}
	pubPEM, err := ks.PublicKeyPEM(r.config.keyName)
	ks.Close()
	if err != nil {
		return err
	}

	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer r.disconnect(ctx, client)

	return r.await(ctx, func(cb ubimqtt.ActionCallback) {
		client.AnnouncePublicKey(r.config.publisher, pubPEM, cb)
	})
}

func (r *runner) publish(ctx context.Context) error {
	opts := []ubimqtt.PublishOption{
		ubimqtt.WithQoS(byte(r.config.qos)),
		ubimqtt.WithRetained(r.config.retain),
	}

	var send func(*ubimqtt.Client, ubimqtt.ActionCallback)
	switch {
	case r.config.signWith != "":
		privPEM, err := r.privateKeyPEM(r.config.signWith)
		if err != nil {
			return err
		}
		send = func(c *ubimqtt.Client, cb ubimqtt.ActionCallback) {
			c.PublishSigned(r.config.topic, r.config.message, privPEM, cb, opts...)
		}

	case r.config.encryptFor != "":
		pubPEM, err := os.ReadFile(r.config.encryptFor)
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}
		send = func(c *ubimqtt.Client, cb ubimqtt.ActionCallback) {
			c.PublishEncrypted(r.config.topic, r.config.message, string(pubPEM), cb, opts...)
		}

	default:
		send = func(c *ubimqtt.Client, cb ubimqtt.ActionCallback) {
			c.Publish(r.config.topic, r.config.message, cb, opts...)
		}
	}

	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer r.disconnect(ctx, client)

	return r.await(ctx, func(cb ubimqtt.ActionCallback) { send(client, cb) })
}

func (r *runner) subscribe(ctx context.Context) error {
	var mu sync.Mutex
	listener := func(topic string, payload []byte, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(r.out, "%s %s\n", topic, payload)
		return err
	}

	var trusted []string
	for _, path := range splitList(r.config.trustKeys) {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read trusted key: %w", err)
		}
		trusted = append(trusted, string(data))
	}

	var decryptPEM string
	if r.config.decryptWith != "" {
		var err error
		if decryptPEM, err = r.privateKeyPEM(r.config.decryptWith); err != nil {
			return err
		}
	}

	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer r.disconnect(context.Background(), client)

	topic := r.config.topic
	err = r.await(ctx, func(cb ubimqtt.ActionCallback) {
		switch {
		case r.config.publisher != "":
			// completes once the first key has arrived and topic is subscribed
			client.SubscribeFromPublisher(topic, r.config.publisher, listener, cb)
		case len(trusted) > 0:
			client.SubscribeSigned(topic, trusted, listener, cb)
		case decryptPEM != "":
			client.SubscribeEncrypted(topic, []string{decryptPEM}, listener, cb)
		default:
			client.Subscribe(topic, listener, cb)
		}
	})
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"function": "subscribe",
		"topic":    topic,
	}).Info("Subscribed, waiting for messages")

	<-ctx.Done()
	return nil
}

func (r *runner) connect(ctx context.Context) (*ubimqtt.Client, error) {
	policy, err := crypto.ParseReplayPolicy(r.config.replayPolicy)
	if err != nil {
		return nil, err
	}

	options := ubimqtt.NewOptions()
	options.ServerAddress = r.config.server
	options.ClientID = r.config.clientID
	options.Username = r.config.username
	options.Password = r.config.password
	options.DefaultQoS = byte(r.config.qos)
	options.BufferWindowSeconds = r.config.bufferWindow
	options.ReplayPolicy = policy
	options.Logger = r.logger

	client, err := r.newClient(options)
	if err != nil {
		return nil, err
	}
	if err := r.await(ctx, client.Connect); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", r.config.server, err)
	}
	return client, nil
}

func (r *runner) disconnect(ctx context.Context, client *ubimqtt.Client) {
	if err := r.await(ctx, client.Disconnect); err != nil {
		r.logger.WithError(err).Warn("Disconnect failed")
	}
}

// await runs op and waits for its callback, the timeout or ctx.
func (r *runner) await(ctx context.Context, op func(ubimqtt.ActionCallback)) error {
	done := make(chan error, 1)
	op(func(err error) { done <- err })

	timer := time.NewTimer(r.config.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("operation timed out after %v", r.config.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runner) openKeyStore() (*crypto.EncryptedKeyStore, error) {
	passphrase := r.getenv(PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s must be set to open the key store", PassphraseEnv)
	}
	return crypto.NewEncryptedKeyStore(r.config.keystoreDir, []byte(passphrase))
}

func (r *runner) privateKeyPEM(name string) (string, error) {
	ks, err := r.openKeyStore()
	if err != nil {
		return "", err
	}
	defer ks.Close()
	return ks.PrivateKeyPEM(name)
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ubimqtt - signed and encrypted messaging over MQTT")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen     generate a key pair into the key store and print its public key")
	fmt.Fprintln(w, "  announce   publish a stored public key on publishers/<name>/publicKey")
	fmt.Fprintln(w, "  publish    publish a plain, signed (-sign) or encrypted (-encrypt-for) message")
	fmt.Fprintln(w, "  subscribe  print messages, optionally verified (-publisher, -trust) or decrypted (-decrypt)")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run '%s <command> -h' for the options of a command.\n", os.Args[0])
	fmt.Fprintf(w, "The key store passphrase is read from %s.\n", PassphraseEnv)
}

// main is the entry point for the ubimqtt tool.
func main() {
	config, err := parseCLIFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, errHelp) {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(2)
	}

	if err := validateCLIConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	r, err := newRunner(config, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	transport.RoutePahoLogs(r.logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := r.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
