package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

var DefaultMediaHosts = []string{
	"i.redd.it",
	"v.redd.it",
	"a.thumbs.redditmedia.com",
	"b.thumbs.redditmedia.com",
	"emoji.redditmedia.com",
	"preview.redd.it",
	"external-preview.redd.it",
	"styles.redditmedia.com",
	"www.redditstatic.com",
}

type Config struct {
	env             environment
	port            string
	sentryDSN       string
	redditBaseURL   string
	mediaHosts      []string
	listingTTL      time.Duration
	threadTTL       time.Duration
	aboutTTL        time.Duration
	requestTimeout  time.Duration
	mediaTimeout    time.Duration
	cacheMaxEntries int
	upstreamBudget  int
	allowedOrigins  []string
	otelEnabled     bool
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) RedditBaseURL() string {
	return c.redditBaseURL
}

// Hosts media may be proxied from. Never empty.
func (c *Config) MediaHosts() []string {
	return slices.Clone(c.mediaHosts)
}

func (c *Config) ListingTTL() time.Duration {
	return c.listingTTL
}

func (c *Config) ThreadTTL() time.Duration {
	return c.threadTTL
}

func (c *Config) AboutTTL() time.Duration {
	return c.aboutTTL
}

func (c *Config) RequestTimeout() time.Duration {
	return c.requestTimeout
}

func (c *Config) MediaTimeout() time.Duration {
	return c.mediaTimeout
}

func (c *Config) CacheMaxEntries() int {
	return c.cacheMaxEntries
}

// Outbound content API requests allowed per minute
func (c *Config) UpstreamBudget() int {
	return c.upstreamBudget
}

// Domain suffixes of front-ends allowed to read the json views cross-origin. May be empty.
func (c *Config) AllowedOrigins() []string {
	return slices.Clone(c.allowedOrigins)
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, redditBaseURL: %s, mediaHosts: %v, ttls: %s/%s/%s, timeouts: %s/%s, cacheMaxEntries: %d, upstreamBudget: %d, allowedOrigins: %v, otel: %t, ...}",
		string(c.env),
		c.port,
		c.redditBaseURL,
		c.mediaHosts,
		c.listingTTL,
		c.threadTTL,
		c.aboutTTL,
		c.requestTimeout,
		c.mediaTimeout,
		c.cacheMaxEntries,
		c.upstreamBudget,
		c.allowedOrigins,
		c.otelEnabled,
	)
}

func invalidValue(key, raw string) error {
	return fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, invalidValue(key, raw)
	}
	return d, nil
}

func positiveIntFromEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, invalidValue(key, raw)
	}
	return n, nil
}

func mediaHostsFromEnv(key string) ([]string, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return slices.Clone(DefaultMediaHosts), nil
	}

	hosts := []string{}
	for part := range strings.SplitSeq(raw, ",") {
		host := strings.ToLower(strings.TrimSpace(part))
		if host == "" {
			continue
		}
		if strings.ContainsAny(host, "/:@ ") {
			return nil, invalidValue(key, raw)
		}
		if !slices.Contains(hosts, host) {
			hosts = append(hosts, host)
		}
	}

	// Fail closed on an allow-list that parses to nothing
	if len(hosts) == 0 {
		return nil, invalidValue(key, raw)
	}

	return hosts, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("REDLIB_ENVIRONMENT")
	if !ok {
		return missingKey("REDLIB_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, invalidValue("REDLIB_ENVIRONMENT", rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if env == production || env == staging {
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, invalidValue("PORT", port)
	}

	redditBaseURL := os.Getenv("REDDIT_BASE_URL")
	if redditBaseURL == "" {
		redditBaseURL = "https://www.reddit.com"
	}
	parsedBaseURL, err := url.Parse(redditBaseURL)
	if err != nil || (parsedBaseURL.Scheme != "https" && parsedBaseURL.Scheme != "http") || parsedBaseURL.Host == "" {
		return Config{}, invalidValue("REDDIT_BASE_URL", redditBaseURL)
	}
	redditBaseURL = strings.TrimSuffix(redditBaseURL, "/")

	mediaHosts, err := mediaHostsFromEnv("REDLIB_MEDIA_HOSTS")
	if err != nil {
		return Config{}, err
	}

	listingTTL, err := durationFromEnv("REDLIB_LISTING_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	threadTTL, err := durationFromEnv("REDLIB_THREAD_TTL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	aboutTTL, err := durationFromEnv("REDLIB_ABOUT_TTL", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := durationFromEnv("REDLIB_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	mediaTimeout, err := durationFromEnv("REDLIB_MEDIA_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	cacheMaxEntries, err := positiveIntFromEnv("REDLIB_CACHE_MAX_ENTRIES", 1000)
	if err != nil {
		return Config{}, err
	}
	upstreamBudget, err := positiveIntFromEnv("REDLIB_UPSTREAM_BUDGET", 100)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins := []string{}
	for part := range strings.SplitSeq(os.Getenv("REDLIB_ALLOWED_ORIGINS"), ",") {
		origin := strings.ToLower(strings.TrimSpace(part))
		if origin == "" {
			continue
		}
		if strings.HasPrefix(origin, ".") || strings.Contains(origin, "://") {
			return Config{}, invalidValue("REDLIB_ALLOWED_ORIGINS", origin)
		}
		allowedOrigins = append(allowedOrigins, origin)
	}

	_, otelEnabled := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return Config{
		env:             env,
		port:            port,
		sentryDSN:       sentryDSN,
		redditBaseURL:   redditBaseURL,
		mediaHosts:      mediaHosts,
		listingTTL:      listingTTL,
		threadTTL:       threadTTL,
		aboutTTL:        aboutTTL,
		requestTimeout:  requestTimeout,
		mediaTimeout:    mediaTimeout,
		cacheMaxEntries: cacheMaxEntries,
		upstreamBudget:  upstreamBudget,
		allowedOrigins:  allowedOrigins,
		otelEnabled:     otelEnabled,
	}, nil
}
