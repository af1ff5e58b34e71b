package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	rabbitmqtransport "github.com/glimte/rabbitmq-transport"
	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/glimte/rabbitmq-transport/health"
	"github.com/glimte/rabbitmq-transport/interceptors"
	"github.com/glimte/rabbitmq-transport/internal/config"
	rabbitmqTransport "github.com/glimte/rabbitmq-transport/transports/rabbitmq"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const defaultSenderEndpoint = "rabbitmq-transport-cli"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configFile       string
	connectionString string
	verbose          bool
}

// load reads the config file and applies the flag overrides
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.connectionString != "" {
		cfg.ConnectionString = o.connectionString
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(cfg *config.Config, endpoint string) (*rabbitmqtransport.Client, error) {
	settings := cfg.TransportSettings()
	logger := cfg.NewLogger(os.Stderr)

	options := []rabbitmqtransport.ClientOption{
		rabbitmqtransport.WithLogger(logger),
		rabbitmqtransport.WithEndpointName(endpoint),
		rabbitmqtransport.WithHostDisplayName(settings.HostDisplayName),
		rabbitmqtransport.WithPrefetchMultiplier(settings.PrefetchMultiplier),
		rabbitmqtransport.WithPrefetchCount(settings.PrefetchCount),
		rabbitmqtransport.WithMaxConcurrency(settings.MaxConcurrency),
		rabbitmqtransport.WithPublisherConfirms(settings.UsePublisherConfirms),
		rabbitmqtransport.WithCircuitBreakerDelay(settings.TimeToWaitBeforeTriggeringCircuitBreaker),
		rabbitmqtransport.WithPurgeOnStartup(settings.PurgeOnStartup),
		rabbitmqtransport.WithDurableMessages(settings.DurableMessages),
		rabbitmqtransport.WithCriticalError(func(message string, err error) {
			logger.Error(message, "error", err)
		}),
		rabbitmqtransport.WithInterceptors(
			interceptors.NewRecoveryInterceptor(logger),
			interceptors.NewLoggingInterceptor(logger),
		),
		rabbitmqtransport.WithTransportOptions(
			rabbitmqTransport.WithDispatcherOptions(cfg.DispatcherOptions()...),
		),
	}

	client, err := rabbitmqtransport.NewClient(cfg.ConnectionString, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "rabbitmq-transport",
		Short: "Send, receive and address messages over the RabbitMQ transport",
		Long: `rabbitmq-transport is a CLI tool for the RabbitMQ transport.
It receives messages from an endpoint queue and prints their normalized headers,
sends messages to queues and computes transport addresses.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&opts.connectionString, "url", "u", "", "Connection string, overrides the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		newReceiveCmd(opts),
		newSendCmd(opts),
		newAddressCmd(),
		newHealthCmd(opts),
		newConfigCmd(),
	)

	return rootCmd
}

func newReceiveCmd(opts *globalOptions) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive messages from an endpoint queue and print them",
		Long:  "Consumes the endpoint queue and prints the message id and the normalized headers of every message until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if queue == "" {
				queue = cfg.Endpoint.Name
			}
			if queue == "" {
				return fmt.Errorf("a queue is required: use --queue or set endpoint.name")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, err := newClient(cfg, queue)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			err = client.Receive(ctx, func(ctx context.Context, env *contracts.Envelope) error {
				printEnvelope(out, env)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to receive: %w", err)
			}

			fmt.Fprintf(out, "Receiving from %s... Press Ctrl+C to stop\n", client.EndpointQueue())
			fmt.Fprintln(out, strings.Repeat("-", 80))

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Endpoint queue to receive from")

	return cmd
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var (
		queue            string
		headers          []string
		body             string
		messageID        string
		timeToBeReceived time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := buildEnvelope(messageID, headers, body)
			if err != nil {
				return err
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			endpoint := cfg.Endpoint.Name
			if endpoint == "" {
				endpoint = defaultSenderEndpoint
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, err := newClient(cfg, endpoint)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SendWithExpiry(ctx, queue, envelope, timeToBeReceived); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s to %s\n", envelope.MessageID, queue)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Destination queue")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Message header as key=value, repeatable")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Message body")
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message id, a new UUID when empty")
	cmd.Flags().DurationVar(&timeToBeReceived, "ttbr", 0, "Discard the message when it is not received in time")
	cmd.MarkFlagRequired("queue")

	return cmd
}

func newAddressCmd() *cobra.Command {
	var address rabbitmqTransport.LogicalAddress

	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the queue name of a logical address",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), rabbitmqTransport.ToTransportAddress(address))
			return nil
		},
	}
	cmd.Flags().StringVarP(&address.Endpoint, "endpoint", "e", "", "Endpoint name")
	cmd.Flags().StringVarP(&address.Discriminator, "discriminator", "d", "", "Instance discriminator")
	cmd.Flags().StringVarP(&address.Qualifier, "qualifier", "q", "", "Queue qualifier")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	var (
		endpoint string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the broker connections and the endpoint queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = cfg.Endpoint.Name
			}
			if endpoint == "" {
				endpoint = defaultSenderEndpoint
			}

			client, err := newClient(cfg, endpoint)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			overall, err := client.Health(ctx)
			if err != nil {
				return err
			}

			printHealth(cmd.OutOrStdout(), overall)
			if overall.Status == health.StatusUnhealthy {
				return fmt.Errorf("endpoint %s is unhealthy", endpoint)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Endpoint to check")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Time allowed for all checks")

	return cmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Default().Save(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "rabbitmq-transport.yaml", "File to write")

	configCmd.AddCommand(initCmd)
	return configCmd
}

// buildEnvelope creates the envelope of the send command
func buildEnvelope(messageID string, headers []string, body string) (*contracts.Envelope, error) {
	if messageID == "" {
		messageID = uuid.New().String()
	}

	envelope := contracts.NewEnvelope(messageID, []byte(body))
	envelope.SetHeader(contracts.HeaderMessageID, messageID)

	for _, h := range headers {
		key, value, ok := strings.Cut(h, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q: expected key=value", h)
		}
		envelope.SetHeader(key, value)
	}

	return envelope, nil
}

func printEnvelope(w io.Writer, env *contracts.Envelope) {
	fmt.Fprintf(w, "Message %s (%d bytes)\n", env.MessageID, len(env.Body))
	for _, name := range env.HeaderNames() {
		fmt.Fprintf(w, "  %-40s %s\n", name, env.Headers[name])
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
}

func printHealth(w io.Writer, overall health.OverallHealth) {
	fmt.Fprintf(w, "Status: %s (%s)\n", overall.Status, overall.Duration.Truncate(time.Millisecond))
	fmt.Fprintf(w, "%-30s %-10s %s\n", "Check", "Status", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, name := range overall.Names() {
		result := overall.Checks[name]
		message := result.Message
		if result.Error != "" {
			message += ": " + result.Error
		}
		fmt.Fprintf(w, "%-30s %-10s %s\n", name, result.Status, message)
	}
}
