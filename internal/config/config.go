// Package config loads the body's runtime tunables from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BusConfig points the bus client at a Redis-compatible endpoint.
type BusConfig struct {
	Addr     string
	Password string
	DB       int
	// RetryAttempts/RetryBase drive the exponential-backoff-with-jitter wrapper
	// around any bus call.
	RetryAttempts int
	RetryBase     time.Duration
}

// AnthropicConfig configures the Pro-tier LLM client.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// GoogleConfig configures the Flash-tier LLM client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// EmbeddingConfig configures the HTTP embedding endpoint used to vectorize
// tier-2 episode text and rag_search queries.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Timeout   int // seconds
}

// ExecConfig bounds subprocess/SSH execution.
type ExecConfig struct {
	SubprocessTimeout  time.Duration
	SSHTimeout         time.Duration
	MaxConcurrentProcs int
	BlockBinaries      []string
}

// GovernorConfig bounds non-urgent think-cycle throughput.
type GovernorConfig struct {
	Limit  int
	Window time.Duration
}

// RefractoryConfig tunes the scheduler's cooldown windows.
type RefractoryConfig struct {
	ChatCooldown    time.Duration
	InboxCooldownLo time.Duration
	InboxCooldownHi time.Duration
	GovernorTripped time.Duration
	LockTTL         time.Duration
}

// PathsConfig roots the filesystem layout.
type PathsConfig struct {
	Home              string // agent home, defaults to "."
	IdentityFile      string
	PriorsFile        string
	PriorsStubFile    string
	ClipboardFile     string
	SubscriptionsFile string
	WorkingLog        string
	CommunicationsLog string
	InboxDumpLog      string
	EpisodesDir       string
	ArchiveDir        string
	OverflowDir       string
	GenesisFile       string
	FleetProtocolsFile string
}

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	AgentName string

	Bus        BusConfig
	Anthropic  AnthropicConfig
	Google     GoogleConfig
	Embedding  EmbeddingConfig
	Exec       ExecConfig
	Governor   GovernorConfig
	Refractory RefractoryConfig
	Paths      PathsConfig

	VectorStoreDSN       string
	VectorCollection     string
	EmbeddingQueue       string
	TodoDSN              string
	NtfyEndpoint         string
	NtfyToken            string
	SearXNGURL           string
	SSHUser              string
	SSHKeyPath           string
	ScribeCommand        []string
	LogLevel             string
	LogPath              string
	OverflowSweepAge     time.Duration
	BufferHighWaterMark  int
	BufferPruneKeepLast  int
	BurstDrainMax        int
}

// Load reads configuration from the environment, applying defaults after the
// environment pass so .env / OS vars always win.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		AgentName: firstNonEmpty(os.Getenv("GUPPI_AGENT_NAME"), "a1"),
		Bus: BusConfig{
			Addr:          firstNonEmpty(os.Getenv("GUPPI_REDIS_ADDR"), "127.0.0.1:6379"),
			Password:      os.Getenv("GUPPI_REDIS_PASSWORD"),
			DB:            envInt("GUPPI_REDIS_DB", 0),
			RetryAttempts: envInt("GUPPI_BUS_RETRY_ATTEMPTS", 3),
			RetryBase:     envDurationUnit("GUPPI_BUS_RETRY_BASE_MS", time.Millisecond, 500*time.Millisecond),
		},
		Anthropic: AnthropicConfig{
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
			Model:     firstNonEmpty(os.Getenv("GUPPI_PRO_MODEL"), "claude-sonnet-4-5"),
			MaxTokens: int64(envInt("GUPPI_PRO_MAX_TOKENS", 4096)),
		},
		Google: GoogleConfig{
			APIKey:  os.Getenv("GOOGLE_LLM_API_KEY"),
			BaseURL: os.Getenv("GOOGLE_LLM_BASE_URL"),
			Model:   firstNonEmpty(os.Getenv("GUPPI_FLASH_MODEL"), "gemini-2.5-flash"),
			Timeout: envDuration("GUPPI_FLASH_TIMEOUT_SECONDS", 60*time.Second),
		},
		Embedding: EmbeddingConfig{
			BaseURL:   firstNonEmpty(os.Getenv("GUPPI_EMBEDDING_BASE_URL"), "http://127.0.0.1:11434"),
			Path:      firstNonEmpty(os.Getenv("GUPPI_EMBEDDING_PATH"), "/v1/embeddings"),
			Model:     firstNonEmpty(os.Getenv("GUPPI_EMBEDDING_MODEL"), "nomic-embed-text"),
			APIKey:    os.Getenv("GUPPI_EMBEDDING_API_KEY"),
			APIHeader: firstNonEmpty(os.Getenv("GUPPI_EMBEDDING_API_HEADER"), "Authorization"),
			Timeout:   envInt("GUPPI_EMBEDDING_TIMEOUT_SECONDS", 30),
		},
		Exec: ExecConfig{
			SubprocessTimeout:  envDuration("GUPPI_SUBPROC_TIMEOUT_SECONDS", 150*time.Second),
			SSHTimeout:         envDuration("GUPPI_SSH_TIMEOUT_SECONDS", 300*time.Second),
			MaxConcurrentProcs: envInt("GUPPI_MAX_CONCURRENT_SUBPROCS", 4),
			BlockBinaries:      splitCSV(os.Getenv("GUPPI_BLOCK_BINARIES")),
		},
		Governor: GovernorConfig{
			Limit:  envInt("GUPPI_GOVERNOR_LIMIT", 15),
			Window: envDuration("GUPPI_GOVERNOR_WINDOW_SECONDS", 300*time.Second),
		},
		Refractory: RefractoryConfig{
			ChatCooldown:    envDuration("GUPPI_CHAT_COOLDOWN_SECONDS", 5*time.Second),
			InboxCooldownLo: envDuration("GUPPI_INBOX_COOLDOWN_LO_SECONDS", 10*time.Second),
			InboxCooldownHi: envDuration("GUPPI_INBOX_COOLDOWN_HI_SECONDS", 30*time.Second),
			GovernorTripped: envDuration("GUPPI_GOVERNOR_COOLDOWN_SECONDS", 60*time.Second),
			LockTTL:         envDurationUnit("GUPPI_LOCK_TTL_MS", time.Millisecond, 60000*time.Millisecond),
		},
		VectorStoreDSN:      firstNonEmpty(os.Getenv("GUPPI_VECTOR_DSN"), "127.0.0.1:6334"),
		VectorCollection:    firstNonEmpty(os.Getenv("GUPPI_VECTOR_COLLECTION"), "guppi_episodes"),
		EmbeddingQueue:      firstNonEmpty(os.Getenv("GUPPI_GPU_QUEUE"), "queue:gpu_heavy"),
		TodoDSN:             os.Getenv("GUPPI_TODO_DSN"),
		NtfyEndpoint:        os.Getenv("GUPPI_NTFY_ENDPOINT"),
		NtfyToken:           os.Getenv("GUPPI_NTFY_TOKEN"),
		SearXNGURL:          os.Getenv("GUPPI_SEARXNG_URL"),
		SSHUser:             firstNonEmpty(os.Getenv("GUPPI_SSH_USER"), "guppi"),
		SSHKeyPath:          os.Getenv("GUPPI_SSH_KEY_PATH"),
		ScribeCommand:       splitFields(os.Getenv("GUPPI_SCRIBE_COMMAND")),
		LogLevel:            firstNonEmpty(os.Getenv("GUPPI_LOG_LEVEL"), "info"),
		LogPath:             os.Getenv("GUPPI_LOG_PATH"),
		OverflowSweepAge:    envDurationUnit("GUPPI_OVERFLOW_SWEEP_DAYS", 24*time.Hour, 3*24*time.Hour),
		BufferHighWaterMark: envInt("GUPPI_BUFFER_HIGH_WATER", 30),
		BufferPruneKeepLast: envInt("GUPPI_BUFFER_PRUNE_KEEP", 15),
		BurstDrainMax:       envInt("GUPPI_BURST_DRAIN_MAX", 20),
	}

	home := firstNonEmpty(os.Getenv("GUPPI_HOME"), ".")
	cfg.Paths = PathsConfig{
		Home:              home,
		IdentityFile:      firstNonEmpty(os.Getenv("GUPPI_IDENTITY_FILE"), home+"/.agent-identity"),
		PriorsFile:        firstNonEmpty(os.Getenv("GUPPI_PRIORS_FILE"), home+"/.agent-priors.md"),
		PriorsStubFile:    firstNonEmpty(os.Getenv("GUPPI_PRIORS_STUB_FILE"), home+"/.agent-priors.stub"),
		ClipboardFile:     firstNonEmpty(os.Getenv("GUPPI_CLIPBOARD_FILE"), home+"/.agent-clipboard-"+cfg.AgentName+".md"),
		SubscriptionsFile: firstNonEmpty(os.Getenv("GUPPI_SUBSCRIPTIONS_FILE"), home+"/.agent-subscriptions"),
		WorkingLog:        firstNonEmpty(os.Getenv("GUPPI_WORKING_LOG"), home+"/working.log"),
		CommunicationsLog: firstNonEmpty(os.Getenv("GUPPI_COMMUNICATIONS_LOG"), home+"/communications.log"),
		InboxDumpLog:      firstNonEmpty(os.Getenv("GUPPI_INBOX_DUMP_LOG"), home+"/logs/inbox_dump.jsonl"),
		EpisodesDir:       firstNonEmpty(os.Getenv("GUPPI_EPISODES_DIR"), home+"/memory/episodes"),
		ArchiveDir:        firstNonEmpty(os.Getenv("GUPPI_ARCHIVE_DIR"), home+"/memory/tier_1_archive"),
		OverflowDir:       firstNonEmpty(os.Getenv("GUPPI_OVERFLOW_DIR"), home+"/memory/overflow"),
		GenesisFile:       firstNonEmpty(os.Getenv("GUPPI_GENESIS_FILE"), home+"/.genesis.md"),
		FleetProtocolsFile: firstNonEmpty(os.Getenv("GUPPI_FLEET_PROTOCOLS_FILE"), home+"/.fleet-protocols.md"),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// envDurationUnit is envDuration for variables whose name carries the unit
// (_MS, _DAYS): a bare integer counts in unit rather than in seconds.
func envDurationUnit(key string, unit, def time.Duration) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return time.Duration(n) * unit
	}
	return envDuration(key, def)
}

// splitFields parses a whitespace-separated argv template, e.g.
// "python3 /opt/guppi/scribe.py" -> ["python3", "/opt/guppi/scribe.py"].
func splitFields(v string) []string {
	return strings.Fields(v)
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
