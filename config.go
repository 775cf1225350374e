package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	adminPassword      string
	adminToken         string
	antiscrapingSecret string
	bind               string
	corsOrigin         string
	dataDir            string
	dictPath           string
	exactWords         bool
	port               int
	prefix             string
	profile            bool
	rateLimitMax       int
	sampleCap          int
	tlsCert            string
	tlsKey             string
	verbose            bool
	version            bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rateLimitMax < 1 {
		return fmt.Errorf("invalid rate limit (must be positive): %d", c.rateLimitMax)
	}
	if c.sampleCap < 1 {
		return fmt.Errorf("invalid sample cap (must be positive): %d", c.sampleCap)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// corsOrigins splits the configured origin list; "*" means any.
func (c *Config) corsOrigins() []string {
	if c.corsOrigin == "" {
		return nil
	}
	parts := strings.Split(c.corsOrigin, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SYLLABOMB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "syllabomb",
		Short:         "A realtime multiplayer syllable word-game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.adminPassword, "admin-password", "", "seeds the admin staff account on first start (env: SYLLABOMB_ADMIN_PASSWORD)")
	fs.StringVar(&cfg.adminToken, "admin-token", "", "static admin API token; empty leaves admin endpoints open in dev mode (env: SYLLABOMB_ADMIN_TOKEN)")
	fs.StringVar(&cfg.antiscrapingSecret, "antiscraping-secret", "", "secret mixed into issued access tokens (env: SYLLABOMB_ANTISCRAPING_SECRET)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SYLLABOMB_BIND)")
	fs.StringVar(&cfg.corsOrigin, "cors-origin", "*", "comma-separated allowed CORS origins (env: SYLLABOMB_CORS_ORIGIN)")
	fs.StringVar(&cfg.dataDir, "data-dir", "./data", "directory holding the staff, ban and user-log stores (env: SYLLABOMB_DATA_DIR)")
	fs.StringVar(&cfg.dictPath, "dict-path", "./dictionary.txt", "path to the dictionary file, one word per line (env: SYLLABOMB_DICT_PATH)")
	fs.BoolVar(&cfg.exactWords, "exact-words", false, "keep the exact word set in memory instead of 32-bit hashes (env: SYLLABOMB_EXACT_WORDS)")
	fs.IntVarP(&cfg.port, "port", "p", 3000, "port to listen on (env: SYLLABOMB_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SYLLABOMB_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SYLLABOMB_PROFILE)")
	fs.IntVar(&cfg.rateLimitMax, "rate-limit-max", 120, "max requests per endpoint per minute per client (env: SYLLABOMB_RATE_LIMIT_MAX)")
	fs.IntVar(&cfg.sampleCap, "sample-cap", 30, "max sample words retained per syllable (env: SYLLABOMB_SAMPLE_CAP)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SYLLABOMB_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SYLLABOMB_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SYLLABOMB_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SYLLABOMB_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("syllabomb v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// Gameplay constants shared across the scheduler and coordinator.
const (
	baseTurnSeconds     = 8
	resumeFloor         = 3 * time.Second
	serverControlWindow = 3 * time.Second
	submitCooldown      = 800 * time.Millisecond
	disconnectMarkDelay = 8 * time.Second
	disconnectEvictWait = 45 * time.Second
	recentlyLeftTTL     = 60 * time.Second
	janitorInterval     = 60 * time.Second
	roomIdleTimeout     = time.Hour
)
