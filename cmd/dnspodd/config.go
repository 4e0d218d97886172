package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dnspodd/dnspodd"
)

const defaultConfigFile = "dnspodd.yml"

// Config is everything the commands need, merged from (highest wins)
// command line flags, environment variables (including a .env file),
// and an optional YAML config file.
type Config struct {
	Provider        string   `yaml:"provider"`
	LoginToken      string   `yaml:"login_token"`
	CloudflareToken string   `yaml:"cloudflare_token"`
	TokenFile       string   `yaml:"token_file"`
	Domain          string   `yaml:"domain"`
	Subdomain       string   `yaml:"subdomain"`
	Interval        string   `yaml:"interval"`
	StateFile       string   `yaml:"state_file"`
	HistoryDB       string   `yaml:"history_db"`
	IPSource        string   `yaml:"ip_source"`
	IPServices      []string `yaml:"ip_services"`
	Interface       string   `yaml:"interface"`

	interval time.Duration // parsed from Interval by validate
	staticIP string        // set by "sync --ip"; bypasses discovery
}

func defaultConfig() Config {
	return Config{
		Provider:  "dnspod",
		Subdomain: dnspodd.Apex,
		Interval:  "300s",
		StateFile: dnspodd.DefaultStateFile,
		IPSource:  "web",
	}
}

// addConfigFlags registers the flags shared by the commands that build
// a client. Unset flags defer to environment and config file values.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "DNS provider (dnspod|cloudflare; default dnspod)")
	cmd.Flags().StringP("domain", "d", "", "Root domain of the record to update")
	cmd.Flags().StringP("subdomain", "s", "", `Subdomain of the record ("@" for the apex)`)
	cmd.Flags().String("interval", "", "Delay between convergence cycles (Go duration; default 300s)")
	cmd.Flags().String("state-file", "", "File remembering the last committed address (default current_ip.txt)")
	cmd.Flags().String("history-db", "", "SQLite file recording update attempts (empty disables)")
	cmd.Flags().String("ip-source", "", "Public IP source (web|dns|interface; default web)")
	cmd.Flags().StringSlice("ip-service", nil, "Echo service URL, repeatable, tried in order")
	cmd.Flags().String("interface", "", "Interface name for the interface IP source")
	cmd.Flags().String("token-file", "", "File holding the provider credential (see: dnspodd setup)")
}

// loadConfig assembles the effective configuration for cmd. It does
// not validate; commands that talk to a provider call validate next.
func loadConfig(cmd *cobra.Command) (Config, error) {
	// Load .env first so the environment lookups below can see it.
	_ = godotenv.Load()

	cfg := defaultConfig()
	path, _ := cmd.Flags().GetString("config")
	if err := cfg.readFile(path, cmd.Flags().Changed("config")); err != nil {
		return cfg, err
	}
	cfg.readEnv()
	cfg.readFlags(cmd)
	return cfg, nil
}

// readFile merges the YAML config at path. A missing file is only an
// error when the path was given explicitly.
func (c *Config) readFile(path string, explicit bool) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) readEnv() {
	setIfEnv := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setIfEnv(&c.Provider, "DDNS_PROVIDER")
	setIfEnv(&c.LoginToken, "DNSPOD_LOGIN_TOKEN")
	setIfEnv(&c.CloudflareToken, "CLOUDFLARE_API_TOKEN")
	setIfEnv(&c.TokenFile, "DDNS_TOKEN_FILE")
	setIfEnv(&c.Domain, "DDNS_DOMAIN")
	setIfEnv(&c.Subdomain, "DDNS_SUBDOMAIN")
	setIfEnv(&c.Interval, "DDNS_INTERVAL")
	setIfEnv(&c.StateFile, "DDNS_STATE_FILE")
	setIfEnv(&c.HistoryDB, "DDNS_HISTORY_DB")
	setIfEnv(&c.IPSource, "DDNS_IP_SOURCE")
	setIfEnv(&c.Interface, "DDNS_INTERFACE")
	if v, ok := os.LookupEnv("DDNS_IP_SERVICES"); ok {
		c.IPServices = splitList(v)
	}
}

func (c *Config) readFlags(cmd *cobra.Command) {
	setIfChanged := func(dst *string, name string) {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	setIfChanged(&c.Provider, "provider")
	setIfChanged(&c.Domain, "domain")
	setIfChanged(&c.Subdomain, "subdomain")
	setIfChanged(&c.Interval, "interval")
	setIfChanged(&c.StateFile, "state-file")
	setIfChanged(&c.HistoryDB, "history-db")
	setIfChanged(&c.IPSource, "ip-source")
	setIfChanged(&c.Interface, "interface")
	setIfChanged(&c.TokenFile, "token-file")
	if cmd.Flags().Changed("ip-service") {
		c.IPServices, _ = cmd.Flags().GetStringSlice("ip-service")
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

// validate fails fast on anything that would doom the loop: it runs
// before the first network call, so a malformed credential or an empty
// domain never starts a daemon.
func (c *Config) validate() error {
	var err error
	if c.interval, err = time.ParseDuration(c.Interval); err != nil {
		return fmt.Errorf("invalid interval %q: %w", c.Interval, err)
	}
	if c.interval <= 0 {
		return fmt.Errorf("interval must be positive; got %s", c.interval)
	}
	if c.Domain == "" {
		return errors.New("domain cannot be empty")
	}
	if c.Subdomain == "" {
		c.Subdomain = dnspodd.Apex
	}

	switch c.Provider {
	case "dnspod":
		if c.LoginToken == "" && c.TokenFile != "" {
			if c.LoginToken, err = readTokenFile(c.TokenFile); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("token file %q does not exist; run \"dnspodd setup\" to create it", c.TokenFile)
				}
				return err
			}
		}
		if c.LoginToken == "" {
			return errors.New("a DNSPod login token is required (DNSPOD_LOGIN_TOKEN, login_token, or token_file)")
		}
		if err := dnspodd.CheckLoginToken(c.LoginToken); err != nil {
			return err
		}
	case "cloudflare":
		if c.CloudflareToken == "" && c.TokenFile != "" {
			if c.CloudflareToken, err = readTokenFile(c.TokenFile); err != nil {
				return err
			}
		}
		if c.CloudflareToken == "" {
			return errors.New("a Cloudflare API token is required (CLOUDFLARE_API_TOKEN or cloudflare_token)")
		}
	default:
		return fmt.Errorf("unknown provider %q (want dnspod or cloudflare)", c.Provider)
	}

	switch c.IPSource {
	case "web", "dns", "interface":
	default:
		return fmt.Errorf("unknown ip source %q (want web, dns, or interface)", c.IPSource)
	}
	return nil
}

// buildClient assembles the client (and the journal when history is
// configured) from a validated Config.
func buildClient(cfg Config, logger *zap.Logger) (*dnspodd.Client, *dnspodd.Journal, error) {
	options := []dnspodd.Option{
		dnspodd.WithLogger(logger),
		dnspodd.WithInterval(cfg.interval),
		dnspodd.WithStateFile(cfg.StateFile),
	}

	switch cfg.Provider {
	case "dnspod":
		options = append(options, dnspodd.UsingDNSPod(cfg.LoginToken))
	case "cloudflare":
		options = append(options, dnspodd.UsingCloudflare(cfg.CloudflareToken))
	}

	switch {
	case cfg.staticIP != "":
		r, err := dnspodd.FromString(cfg.staticIP)
		if err != nil {
			return nil, nil, err
		}
		options = append(options, dnspodd.UsingResolver(r))
	case cfg.IPSource == "dns":
		options = append(options, dnspodd.UsingResolver(dnspodd.DNSResolver("", "")))
	case cfg.IPSource == "interface":
		options = append(options, dnspodd.UsingResolver(dnspodd.InterfaceResolver(cfg.Interface)))
	case len(cfg.IPServices) > 0:
		options = append(options, dnspodd.UsingWebResolver(cfg.IPServices...))
	}

	var journal *dnspodd.Journal
	if cfg.HistoryDB != "" {
		var err error
		if journal, err = dnspodd.OpenJournal(cfg.HistoryDB); err != nil {
			return nil, nil, err
		}
		options = append(options, dnspodd.WithJournal(journal))
	}

	client, err := dnspodd.New(dnspodd.Target{Domain: cfg.Domain, Sub: cfg.Subdomain}, options...)
	if err != nil {
		if journal != nil {
			journal.Close()
		}
		return nil, nil, err
	}
	return client, journal, nil
}

// readTokenFile reads the first line of the credential file created by
// "dnspodd setup".
func readTokenFile(path string) (string, error) {
	if err := verifyPermissions(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading token file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return strings.TrimSpace(string(line)), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: expected file permissions \"-rw-------\"; found %q", path, fs.FileMode(perms))
	}
	return nil
}

func defaultTokenFile() string {
	return filepath.Join(os.Getenv("HOME"), ".dnspod")
}
