package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alfredjeanlab/relaymux/internal/watermark"
	"github.com/spf13/cobra"
)

// RemotesConfig holds all named remotes and tracks which one is active.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is a named relaymux server profile. Empty fields fall back to the
// environment and then to the built-in defaults.
type Remote struct {
	URL      string `toml:"url"`
	GRPCAddr string `toml:"grpc_addr,omitempty"`
	// Transport is the --transport default for this server: http or grpc.
	Transport string `toml:"transport,omitempty"`
	Token     string `toml:"token,omitempty"`
	// NATSURL is the flag bus `flags push` publishes to.
	NATSURL string `toml:"nats_url,omitempty"`
	// SinceLastOpened is the `watch` default. Nil means true.
	SinceLastOpened *bool  `toml:"since_last_opened,omitempty"`
	Description     string `toml:"description,omitempty"`
}

func (r Remote) transport() string {
	if r.Transport == "" {
		return "http"
	}
	return r.Transport
}

func (r Remote) sinceLastOpened() bool {
	return r.SinceLastOpened == nil || *r.SinceLastOpened
}

// remotesPath puts remotes.toml beside the watermark state file.
func remotesPath() (string, error) {
	state, err := watermark.DefaultStatePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(state), "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remotesPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	var cfg RemotesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return RemotesConfig{Remotes: map[string]Remote{}}, nil
		}
		return RemotesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig replaces the file atomically with mode 0600.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remotesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode remotes: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// updateRemotes loads the config, applies fn and saves the result. Nothing
// is written when fn fails.
func updateRemotes(fn func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

// lookup resolves an optional name argument, defaulting to the active remote.
func (cfg RemotesConfig) lookup(args []string) (string, Remote, error) {
	name := cfg.Active
	if len(args) == 1 {
		name = args[0]
	}
	if name == "" {
		return "", Remote{}, fmt.Errorf("no active remote; specify a name or run 'relaymux remote use <name>'")
	}
	r, ok := cfg.Remotes[name]
	if !ok {
		return "", Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return name, r, nil
}

var (
	remoteOnce   sync.Once
	cachedRemote Remote
)

// activeRemote returns the active profile, loaded once per process. A missing
// or broken config yields the zero Remote.
func activeRemote() Remote {
	remoteOnce.Do(func() {
		cfg, err := loadRemotesConfig()
		if err != nil || cfg.Active == "" {
			return
		}
		cachedRemote = cfg.Remotes[cfg.Active]
	})
	return cachedRemote
}

func checkTransport(t string) error {
	switch t {
	case "http", "grpc":
		return nil
	}
	return fmt.Errorf("unknown transport %q (must be http or grpc)", t)
}

func checkServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q (want http:// or https://)", raw)
	}
	return nil
}

func checkNATSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "nats" && u.Scheme != "tls") || u.Host == "" {
		return fmt.Errorf("invalid NATS URL %q (want nats:// or tls://)", raw)
	}
	return nil
}

// applyRemoteFlags copies every profile flag the user set onto r.
func applyRemoteFlags(cmd *cobra.Command, r *Remote) error {
	fs := cmd.Flags()
	if fs.Changed("url") {
		r.URL, _ = fs.GetString("url")
	}
	if fs.Changed("grpc") {
		r.GRPCAddr, _ = fs.GetString("grpc")
	}
	if fs.Changed("transport") {
		r.Transport, _ = fs.GetString("transport")
	}
	if fs.Changed("token") {
		r.Token, _ = fs.GetString("token")
	}
	if fs.Changed("nats") {
		r.NATSURL, _ = fs.GetString("nats")
	}
	if fs.Changed("since-last-opened") {
		v, _ := fs.GetBool("since-last-opened")
		r.SinceLastOpened = &v
	}
	if fs.Changed("description") {
		r.Description, _ = fs.GetString("description")
	}

	if err := checkServerURL(r.URL); err != nil {
		return err
	}
	if r.Transport != "" {
		if err := checkTransport(r.Transport); err != nil {
			return err
		}
	}
	if r.Transport == "grpc" && r.GRPCAddr == "" {
		return fmt.Errorf("transport grpc needs --grpc")
	}
	if r.NATSURL != "" {
		return checkNATSURL(r.NATSURL)
	}
	return nil
}

func maskToken(token string, keep int, pad bool) string {
	if len(token) <= keep {
		return token
	}
	if pad {
		return token[:keep] + strings.Repeat("*", len(token)-keep)
	}
	return token[:keep] + "..."
}

var remoteCmd = &cobra.Command{
	Use:               "remote",
	Short:             "Manage named server remotes",
	GroupID:           "system",
	PersistentPreRunE: noClient,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <http-url>",
	Short: "Add or replace a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		r := Remote{URL: args[1]}
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if err := applyRemoteFlags(cmd, &r); err != nil {
				return err
			}
			cfg.Remotes[name] = r
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q added (%s via %s)\n", name, r.URL, r.transport())
		return nil
	},
}

var remoteSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Change fields of an existing remote",
	Long: `Change fields of an existing remote. Only the options given are touched;
pass an empty value (for example --token "") to clear a field.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := updateRemotes(func(cfg *RemotesConfig) error {
			r, ok := cfg.Remotes[name]
			if !ok {
				return fmt.Errorf("remote %q not found", name)
			}
			if err := applyRemoteFlags(cmd, &r); err != nil {
				return err
			}
			cfg.Remotes[name] = r
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q updated\n", name)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, ok := cfg.Remotes[name]; !ok {
				return fmt.Errorf("remote %q not found", name)
			}
			delete(cfg.Remotes, name)
			if cfg.Active == name {
				cfg.Active = ""
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(out, "no remotes configured")
			return nil
		}
		names := make([]string, 0, len(cfg.Remotes))
		for name := range cfg.Remotes {
			names = append(names, name)
		}
		slices.Sort(names)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tTRANSPORT\tENDPOINT\tTOKEN\tDESCRIPTION")
		for _, name := range names {
			r := cfg.Remotes[name]
			marker := "  "
			if name == cfg.Active {
				marker = "* "
			}
			endpoint := r.URL
			if r.transport() == "grpc" {
				endpoint = r.GRPCAddr
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\n", marker, name, r.transport(), endpoint, maskToken(r.Token, 8, false), r.Description)
		}
		return w.Flush()
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Set the active remote (no args clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, ok := cfg.Remotes[name]; name != "" && !ok {
				return fmt.Errorf("remote %q not found", name)
			}
			cfg.Active = name
			return nil
		})
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "active remote cleared")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", name)
		}
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show details for a remote (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name, r, err := cfg.lookup(args)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		active := ""
		if name == cfg.Active {
			active = " (active)"
		}
		fmt.Fprintf(w, "name:\t%s%s\n", name, active)
		if r.Description != "" {
			fmt.Fprintf(w, "description:\t%s\n", r.Description)
		}
		fmt.Fprintf(w, "transport:\t%s\n", r.transport())
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		if r.GRPCAddr != "" {
			fmt.Fprintf(w, "grpc_addr:\t%s\n", r.GRPCAddr)
		}
		if r.Token != "" {
			fmt.Fprintf(w, "token:\t%s\n", maskToken(r.Token, 8, true))
		}
		if r.NATSURL != "" {
			fmt.Fprintf(w, "nats_url:\t%s\n", r.NATSURL)
		}
		fmt.Fprintf(w, "since_last_opened:\t%s\n", strconv.FormatBool(r.sinceLastOpened()))
		return w.Flush()
	},
}

var remotePingCmd = &cobra.Command{
	Use:   "ping [name]",
	Short: "Check that a remote answers health checks (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name, r, err := cfg.lookup(args)
		if err != nil {
			return err
		}
		c, err := newRelayClient(r.transport(), r.URL, r.GRPCAddr, r.Token)
		if err != nil {
			return err
		}
		defer c.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		start := time.Now()
		health, err := c.Health(ctx)
		if err != nil {
			return fmt.Errorf("remote %q: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s via %s in %s\n", name, health, r.transport(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("grpc", "", "gRPC address of the remote")
	cmd.Flags().String("transport", "", "default transport for this remote (http or grpc)")
	cmd.Flags().String("token", "", "bearer token for authentication")
	cmd.Flags().String("nats", "", "NATS URL of the flag bus, used by 'flags push'")
	cmd.Flags().Bool("since-last-opened", true, "default for 'watch --since-last-opened'")
	cmd.Flags().String("description", "", "human-readable description of the remote")
}

func init() {
	addRemoteFlags(remoteAddCmd)
	addRemoteFlags(remoteSetCmd)
	remoteSetCmd.Flags().String("url", "", "HTTP URL of the remote")
	remotePingCmd.Flags().Duration("timeout", 5*time.Second, "health check timeout")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteSetCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteUseCmd)
	remoteCmd.AddCommand(remoteShowCmd)
	remoteCmd.AddCommand(remotePingCmd)
}
