package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds one worker's configuration: the tenant base directory, the
// station tables, service endpoints, and tuning knobs.
type Config struct {
	BaseDir       string
	HTTPPort      string
	WorkerCount   int
	JobQueueSize  int
	JobTimeoutSec int
	LockStaleSec  int

	TranscribeURL    string
	TranscribeStereo bool
	UseVocab         bool

	LLMURL   string
	LLMKey   string
	LLMModel string

	TelegramToken string
	AlertChatID   string
	ChannelNizh   string
	ChannelOther  string

	StationNames   map[string]string
	StationMapping map[string][]string
	NizhStations   []string

	Extensions        []string
	UseCustomPatterns bool
	CustomPatterns    []string

	PromptsFile        string
	TransferPromptFile string
	RecallPromptFile   string
	VocabFile          string

	DBPath string

	IdleAlertMin  int
	WorkHourStart int
	WorkHourEnd   int

	ProfileLabel string
	StrictConfig bool
}

type fileConfig struct {
	BaseDir        string              `json:"base_dir" yaml:"base_dir"`
	HTTPPort       string              `json:"http_port" yaml:"http_port"`
	DBPath         string              `json:"db_path" yaml:"db_path"`
	StationNames   map[string]string   `json:"stations" yaml:"stations"`
	StationMapping map[string][]string `json:"station_mapping" yaml:"station_mapping"`
	NizhStations   []string            `json:"nizh_station_codes" yaml:"nizh_station_codes"`
	Telegram       telegramFileConfig  `json:"telegram" yaml:"telegram"`
	Patterns       patternsFileConfig  `json:"filename_patterns" yaml:"filename_patterns"`
	Prompts        promptsFileConfig   `json:"prompts" yaml:"prompts"`
}

type telegramFileConfig struct {
	BotToken     string `json:"bot_token" yaml:"bot_token"`
	AlertChatID  string `json:"alert_chat_id" yaml:"alert_chat_id"`
	ChannelNizh  string `json:"tg_channel_nizh" yaml:"tg_channel_nizh"`
	ChannelOther string `json:"tg_channel_other" yaml:"tg_channel_other"`
}

type patternsFileConfig struct {
	UseCustom  bool     `json:"use_custom" yaml:"use_custom"`
	Patterns   []string `json:"patterns" yaml:"patterns"`
	Extensions []string `json:"supported_extensions" yaml:"supported_extensions"`
}

type promptsFileConfig struct {
	PromptsFile        string `json:"prompts_file" yaml:"prompts_file"`
	TransferPromptFile string `json:"transfer_prompt_file" yaml:"transfer_prompt_file"`
	RecallPromptFile   string `json:"recall_prompt_file" yaml:"recall_prompt_file"`
	VocabFile          string `json:"additional_vocab_file" yaml:"additional_vocab_file"`
}

// profileConfig is the per-tenant JSON handed over by the supervisor.
type profileConfig struct {
	Paths struct {
		BaseRecordsPath string `json:"base_records_path"`
		PromptsFile     string `json:"prompts_file"`
		VocabFile       string `json:"additional_vocab_file"`
	} `json:"paths"`
	APIKeys struct {
		TelegramBotToken string `json:"telegram_bot_token"`
	} `json:"api_keys"`
	Telegram struct {
		AlertChatID  string `json:"alert_chat_id"`
		ChannelNizh  string `json:"tg_channel_nizh"`
		ChannelOther string `json:"tg_channel_other"`
	} `json:"telegram"`
	Stations       map[string]string   `json:"stations"`
	StationMapping map[string][]string `json:"station_mapping"`
	NizhStations   []string            `json:"nizh_station_codes"`
	Patterns       struct {
		UseCustom bool     `json:"use_custom"`
		Patterns  []string `json:"patterns"`
	} `json:"filename_patterns"`
	Transcription struct {
		StereoEnabled *bool `json:"tbank_stereo_enabled"`
		UseVocab      *bool `json:"use_additional_vocab"`
	} `json:"transcription"`
	Label string `json:"label"`
}

const (
	defaultPort          = ":8090"
	defaultBaseDir       = "runtime/records"
	defaultDBFile        = "calltrack.db"
	minQueueSize         = 1
	defaultQueueSize     = 100
	maxQueueSize         = 1024
	defaultWorkerCount   = 4
	defaultJobTimeoutSec = 300
	defaultLockStaleSec  = 600
	defaultIdleAlertMin  = 20
)

// Load reads configuration from environment variables, an optional YAML/JSON
// config file, and the tenant profile JSON named by CALLTRACK_PROFILE_PATH.
// The profile is authoritative for tenant-owned settings (paths, stations,
// channels); env vars cover the rest and win over the config file.
func Load(log *logrus.Logger) (Config, error) {
	cfg := Config{
		JobQueueSize:  defaultQueueSize,
		WorkerCount:   defaultWorkerCount,
		JobTimeoutSec: defaultJobTimeoutSec,
		LockStaleSec:  defaultLockStaleSec,
		IdleAlertMin:  defaultIdleAlertMin,
		WorkHourStart: 8,
		WorkHourEnd:   20,
		UseVocab:      true,
		Extensions:    []string{".mp3", ".wav"},
		TranscribeURL: getEnv("TRANSCRIBE_URL", "http://127.0.0.1:8000/transcribe"),
		LLMURL:        getEnv("LLM_URL", "https://api.deepseek.com"),
		LLMKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:      getEnv("LLM_MODEL", "deepseek-reasoner"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AlertChatID:   os.Getenv("ALERT_CHAT_ID"),
		ChannelNizh:   os.Getenv("TG_CHANNEL_NIZH"),
		ChannelOther:  os.Getenv("TG_CHANNEL_OTHER"),
		ProfileLabel:  getEnv("CALLTRACK_LABEL", "global"),
		StrictConfig:  parseBoolEnv("STRICT_CONFIG"),
	}

	configPath := getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Warnf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.StationNames = fileCfg.StationNames
	cfg.StationMapping = fileCfg.StationMapping
	cfg.NizhStations = fileCfg.NizhStations
	cfg.UseCustomPatterns = fileCfg.Patterns.UseCustom
	cfg.CustomPatterns = fileCfg.Patterns.Patterns
	if len(fileCfg.Patterns.Extensions) > 0 {
		cfg.Extensions = fileCfg.Patterns.Extensions
	}
	cfg.TelegramToken = firstNonEmpty(cfg.TelegramToken, fileCfg.Telegram.BotToken)
	cfg.AlertChatID = firstNonEmpty(cfg.AlertChatID, fileCfg.Telegram.AlertChatID)
	cfg.ChannelNizh = firstNonEmpty(cfg.ChannelNizh, fileCfg.Telegram.ChannelNizh)
	cfg.ChannelOther = firstNonEmpty(cfg.ChannelOther, fileCfg.Telegram.ChannelOther)
	cfg.PromptsFile = firstNonEmpty(os.Getenv("PROMPTS_FILE"), fileCfg.Prompts.PromptsFile)
	cfg.TransferPromptFile = firstNonEmpty(os.Getenv("TRANSFER_PROMPT_FILE"), fileCfg.Prompts.TransferPromptFile)
	cfg.RecallPromptFile = firstNonEmpty(os.Getenv("RECALL_PROMPT_FILE"), fileCfg.Prompts.RecallPromptFile)
	cfg.VocabFile = firstNonEmpty(os.Getenv("ADDITIONAL_VOCAB_FILE"), fileCfg.Prompts.VocabFile)

	cfg.BaseDir = firstNonEmpty(os.Getenv("BASE_RECORDS_PATH"), fileCfg.BaseDir, defaultBaseDir)

	if profilePath := os.Getenv("CALLTRACK_PROFILE_PATH"); profilePath != "" {
		if err := applyProfile(&cfg, profilePath); err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("profile load failed (%s): %w", profilePath, err)
			}
			log.Warnf("profile load failed (%s): %v (continuing without overrides)", profilePath, err)
		}
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = filepath.Join(cfg.BaseDir, "runtime", defaultDBFile)
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Warnf("invalid WORKER_COUNT=%q, using default %d", v, defaultWorkerCount)
			n = defaultWorkerCount
		}
		cfg.WorkerCount = n
	}

	if v := os.Getenv("JOB_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("invalid JOB_QUEUE_SIZE=%q, using default %d", v, defaultQueueSize)
			n = defaultQueueSize
		}
		if n < minQueueSize {
			log.Warnf("JOB_QUEUE_SIZE raised to minimum %d (was %d)", minQueueSize, n)
			n = minQueueSize
		}
		if n > maxQueueSize {
			log.Warnf("JOB_QUEUE_SIZE capped at %d (was %d)", maxQueueSize, n)
			n = maxQueueSize
		}
		cfg.JobQueueSize = n
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		log.Warnf("JOB_QUEUE_SIZE must be >= WORKER_COUNT; using %d", maxInt(defaultQueueSize, cfg.WorkerCount))
		cfg.JobQueueSize = maxInt(defaultQueueSize, cfg.WorkerCount)
	}

	if v, ok, err := parseIntEnv("JOB_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
	} else if ok && v > 0 {
		cfg.JobTimeoutSec = v
	}
	if v, ok, err := parseIntEnv("LOCK_STALE_SEC"); err != nil {
		log.Warnf("invalid LOCK_STALE_SEC: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.LockStaleSec = v
	}
	if v, ok, err := parseIntEnv("IDLE_ALERT_MIN"); err != nil {
		log.Warnf("invalid IDLE_ALERT_MIN: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.IdleAlertMin = v
	}

	if v := os.Getenv("TRANSCRIBE_STEREO"); strings.TrimSpace(v) != "" {
		cfg.TranscribeStereo = parseBoolEnv("TRANSCRIBE_STEREO")
	}
	if v := os.Getenv("USE_ADDITIONAL_VOCAB"); strings.TrimSpace(v) != "" {
		cfg.UseVocab = parseBoolEnv("USE_ADDITIONAL_VOCAB")
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Warnf("config validation failed: %v (continuing)", err)
	}
	return cfg, nil
}

func applyProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p profileConfig
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Paths.BaseRecordsPath != "" {
		cfg.BaseDir = p.Paths.BaseRecordsPath
	}
	if p.Paths.PromptsFile != "" {
		cfg.PromptsFile = p.Paths.PromptsFile
	}
	if p.Paths.VocabFile != "" {
		cfg.VocabFile = p.Paths.VocabFile
	}
	if p.APIKeys.TelegramBotToken != "" {
		cfg.TelegramToken = p.APIKeys.TelegramBotToken
	}
	if p.Telegram.AlertChatID != "" {
		cfg.AlertChatID = p.Telegram.AlertChatID
	}
	if p.Telegram.ChannelNizh != "" {
		cfg.ChannelNizh = p.Telegram.ChannelNizh
	}
	if p.Telegram.ChannelOther != "" {
		cfg.ChannelOther = p.Telegram.ChannelOther
	}
	if len(p.Stations) > 0 {
		cfg.StationNames = p.Stations
	}
	if len(p.StationMapping) > 0 {
		cfg.StationMapping = p.StationMapping
	}
	if len(p.NizhStations) > 0 {
		cfg.NizhStations = p.NizhStations
	}
	if len(p.Patterns.Patterns) > 0 || p.Patterns.UseCustom {
		cfg.UseCustomPatterns = p.Patterns.UseCustom
		cfg.CustomPatterns = p.Patterns.Patterns
	}
	if p.Transcription.StereoEnabled != nil {
		cfg.TranscribeStereo = *p.Transcription.StereoEnabled
	}
	if p.Transcription.UseVocab != nil {
		cfg.UseVocab = *p.Transcription.UseVocab
	}
	if p.Label != "" {
		cfg.ProfileLabel = p.Label
	}
	return nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return errors.New("BASE_RECORDS_PATH is required")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return errors.New("HTTP_PORT is required")
	}
	if len(cfg.Extensions) == 0 {
		return errors.New("supported_extensions must not be empty")
	}
	if cfg.WorkHourStart < 0 || cfg.WorkHourEnd > 24 || cfg.WorkHourStart >= cfg.WorkHourEnd {
		return fmt.Errorf("invalid working hours %d..%d", cfg.WorkHourStart, cfg.WorkHourEnd)
	}
	return nil
}

// RuntimeDir is the per-tenant state directory holding locks, case stores, and the DB.
func (c Config) RuntimeDir() string { return filepath.Join(c.BaseDir, "runtime") }

// LocksDir holds the cross-process intake lock files.
func (c Config) LocksDir() string { return filepath.Join(c.RuntimeDir(), "locks") }

// TransferStorePath is the transfer case store location.
func (c Config) TransferStorePath() string {
	return filepath.Join(c.RuntimeDir(), "transfer_cases.json")
}

// RecallStorePath is the recall case store location.
func (c Config) RecallStorePath() string {
	return filepath.Join(c.RuntimeDir(), "recall_cases.json")
}

// ReloadFlagPath is touched by the supervisor to request a clean restart.
func (c Config) ReloadFlagPath() string { return filepath.Join(c.RuntimeDir(), "reload.flag") }

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}
