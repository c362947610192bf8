package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/relaymux/internal/client"
	"github.com/alfredjeanlab/relaymux/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	serverAddr string
	transport  string
	authToken  string
	jsonOutput bool
	colorMode  string

	relayClient client.RelayClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("RELAYMUX_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemote().URL; u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("RELAYMUX_SERVER"); s != "" {
		return s
	}
	if a := activeRemote().GRPCAddr; a != "" {
		return a
	}
	return "localhost:9090"
}

func defaultTransport() string {
	if s := os.Getenv("RELAYMUX_TRANSPORT"); s != "" {
		return s
	}
	return activeRemote().transport()
}

func defaultToken() string {
	if s := os.Getenv("RELAYMUX_TOKEN"); s != "" {
		return s
	}
	return activeRemote().Token
}

func newRelayClient(transport, httpURL, grpcAddr, token string) (client.RelayClient, error) {
	if err := checkTransport(transport); err != nil {
		return nil, err
	}
	if transport == "http" {
		return client.NewHTTPClient(httpURL, token), nil
	}
	c, err := client.NewGRPCClient(grpcAddr, token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return c, nil
}

// adminClient returns an HTTP client; the admin endpoints have no gRPC form.
func adminClient() *client.HTTPClient {
	if c, ok := relayClient.(*client.HTTPClient); ok {
		return c
	}
	return client.NewHTTPClient(httpURL, authToken)
}

// noClient is used by commands that work offline.
func noClient(cmd *cobra.Command, args []string) error {
	return ui.SetColorMode(colorMode)
}

var rootCmd = &cobra.Command{
	Use:           "relaymux <command>",
	Short:         "Subscription multiplexer for relay event networks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := ui.SetColorMode(colorMode); err != nil {
			return err
		}
		c, err := newRelayClient(transport, httpURL, serverAddr, authToken)
		if err != nil {
			return err
		}
		relayClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if relayClient != nil {
			relayClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", defaultTransport(), "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "color output (auto, always or never)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "admin", Title: "Admin:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Events
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(publishCmd)

	// Admin
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(relaysCmd)
	rootCmd.AddCommand(flagsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
