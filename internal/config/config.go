package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Mode selects which branches of the decision graph are reachable.
const (
	ModeAuto      = "auto"
	ModePostOnly  = "post-only"
	ModeReplyOnly = "reply-only"
)

type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Agent     AgentConfig
	Limits    LimitsConfig
	Upstream  UpstreamConfig
	Retention RetentionConfig
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	AutoMigrate    bool
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures the end-of-invocation Pushgateway push.
// An empty URL disables the push.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// AgentConfig holds the behavioural knobs of a single invocation.
type AgentConfig struct {
	Timezone      string   // IANA name, e.g. "Australia/Perth"
	Mode          string   // auto | post-only | reply-only
	ForceAction   string   // "post" or "reply": bypass the cadence heuristic, not the hard caps
	StrictBudget  bool     // never attempt video/image tiers
	PeakStart     int      // hour of day, inclusive
	PeakEnd       int      // hour of day, inclusive
	BlockedTopics []string // hard content policy: topics the quality gate rejects
	Handle        string   // the agent's own platform handle
}

// LimitsConfig mirrors the QuotaLimits table: hard caps, soft targets,
// and the dedup thresholds the planner consults.
type LimitsConfig struct {
	PostsPerDay           int           // hard cap, shared by posts and replies
	ReplyTargetPerDay     int           // soft target, replies treated as bonus
	MentionCheckInterval  time.Duration // minimum gap between mention polls
	GenerationCallsPerDay int
	VideosPerDay          int
	ImagesPerDay          int
	PostSoftMin           int // preferred posts-per-day window
	PostSoftMax           int
	DuplicateThreshold    float64 // cosine similarity above which a topic is a repeat
	ReplyDupThreshold     float64
	MemoryWindow          time.Duration // recency bound for similarity search
	CandidateLimit        int           // max context candidates considered per run
	EmbeddingDim          int
}

// UpstreamConfig points at the external collaborators.
type UpstreamConfig struct {
	ProducerURL  string
	PlatformURL  string
	EmbedderURL  string
	TrendsURL    string
	Token        string
	CallTimeout  time.Duration // per external call
	VideoTimeout time.Duration // video generation runs much longer
}

type RetentionConfig struct {
	LedgerAge time.Duration
	MemoryAge time.Duration
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),

			AutoMigrate:    k.Bool("db.auto.migrate"),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: k.String("metrics.pushgateway.url"),
			Job:            k.String("metrics.job"),
		},
		Agent: AgentConfig{
			Timezone:      k.String("agent.timezone"),
			Mode:          k.String("agent.mode"),
			ForceAction:   k.String("agent.force.action"),
			StrictBudget:  k.Bool("agent.strict.budget"),
			PeakStart:     k.Int("agent.peak.start"),
			PeakEnd:       k.Int("agent.peak.end"),
			BlockedTopics: k.Strings("agent.blocked.topics"),
			Handle:        k.String("agent.handle"),
		},
		Limits: LimitsConfig{
			PostsPerDay:           k.Int("limits.posts.per.day"),
			ReplyTargetPerDay:     k.Int("limits.reply.target.per.day"),
			GenerationCallsPerDay: k.Int("limits.generation.calls.per.day"),
			VideosPerDay:          k.Int("limits.videos.per.day"),
			ImagesPerDay:          k.Int("limits.images.per.day"),
			PostSoftMin:           k.Int("limits.post.soft.min"),
			PostSoftMax:           k.Int("limits.post.soft.max"),
			DuplicateThreshold:    k.Float64("limits.duplicate.threshold"),
			ReplyDupThreshold:     k.Float64("limits.reply.dup.threshold"),
			CandidateLimit:        k.Int("limits.candidate.limit"),
			EmbeddingDim:          k.Int("limits.embedding.dim"),
		},
		Upstream: UpstreamConfig{
			ProducerURL: k.String("upstream.producer.url"),
			PlatformURL: k.String("upstream.platform.url"),
			EmbedderURL: k.String("upstream.embedder.url"),
			TrendsURL:   k.String("upstream.trends.url"),
			Token:       k.String("upstream.token"),
		},
	}

	applyDefaults(cfg)

	// Parse durations
	cfg.Limits.MentionCheckInterval, err = parseDuration(k, "limits.mention.check.interval", "15m")
	if err != nil {
		return nil, err
	}
	cfg.Limits.MemoryWindow, err = parseDuration(k, "limits.memory.window", "168h")
	if err != nil {
		return nil, err
	}
	cfg.Upstream.CallTimeout, err = parseDuration(k, "upstream.call.timeout", "30s")
	if err != nil {
		return nil, err
	}
	cfg.Upstream.VideoTimeout, err = parseDuration(k, "upstream.video.timeout", "5m")
	if err != nil {
		return nil, err
	}
	cfg.Retention.LedgerAge, err = parseDuration(k, "retention.ledger.age", "2160h")
	if err != nil {
		return nil, err
	}
	cfg.Retention.MemoryAge, err = parseDuration(k, "retention.memory.age", "720h")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "plume"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "plume"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 5
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "plume_agent"
	}
	if cfg.Agent.Timezone == "" {
		cfg.Agent.Timezone = "UTC"
	}
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = ModeAuto
	}
	if cfg.Agent.PeakStart == 0 {
		cfg.Agent.PeakStart = 9
	}
	if cfg.Agent.PeakEnd == 0 {
		cfg.Agent.PeakEnd = 21
	}
	if cfg.Limits.PostsPerDay == 0 {
		cfg.Limits.PostsPerDay = 17
	}
	if cfg.Limits.ReplyTargetPerDay == 0 {
		cfg.Limits.ReplyTargetPerDay = 3
	}
	if cfg.Limits.GenerationCallsPerDay == 0 {
		cfg.Limits.GenerationCallsPerDay = 50
	}
	if cfg.Limits.VideosPerDay == 0 {
		cfg.Limits.VideosPerDay = 2
	}
	if cfg.Limits.ImagesPerDay == 0 {
		cfg.Limits.ImagesPerDay = 4
	}
	if cfg.Limits.PostSoftMin == 0 {
		cfg.Limits.PostSoftMin = 7
	}
	if cfg.Limits.PostSoftMax == 0 {
		cfg.Limits.PostSoftMax = 12
	}
	if cfg.Limits.DuplicateThreshold == 0 {
		cfg.Limits.DuplicateThreshold = 0.85
	}
	if cfg.Limits.ReplyDupThreshold == 0 {
		cfg.Limits.ReplyDupThreshold = 0.90
	}
	if cfg.Limits.CandidateLimit == 0 {
		cfg.Limits.CandidateLimit = 2
	}
	if cfg.Limits.EmbeddingDim == 0 {
		cfg.Limits.EmbeddingDim = 768
	}
}
