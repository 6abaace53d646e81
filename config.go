package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Invalid-ballot policies (see AppConfig.InvalidVotePolicy).
const (
	InvalidVoteDrop   = "drop"
	InvalidVoteRandom = "random"
)

// AppConfig holds all run configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Run
	DB              string `json:"db"`             // sqlite connection string for the transcript store ("" disables)
	WatchAddr       string `json:"watch_addr"`     // HTTP listen address for the spectator page ("" disables)
	TranscriptDir   string `json:"transcript_dir"` // directory for JSON transcripts
	SaveTranscripts bool   `json:"save_transcripts"`
	Seed            int64  `json:"seed"` // RNG seed; 0 means time-based

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogGame      bool   `json:"log_game"`
	LogDB        bool   `json:"log_db"`
	LogDebug     bool   `json:"log_debug"`

	// Role distribution
	Villagers  int `json:"villagers"`
	Mafiosi    int `json:"mafiosi"`
	Doctors    int `json:"doctors"`
	Detectives int `json:"detectives"`
	Godfathers int `json:"godfathers"`

	// Phase settings
	DiscussionRounds      int  `json:"discussion_rounds"`       // day discussion rounds
	VotingRounds          int  `json:"voting_rounds"`           // day voting rounds
	MafiaDiscussionRounds int  `json:"mafia_discussion_rounds"` // night mafia discussion rounds
	EnableReactions       bool `json:"enable_reactions"`
	EnableMafiaReactions  bool `json:"enable_mafia_reactions"`

	// Mechanics
	GodfatherAppearsInnocent bool   `json:"godfather_appears_innocent"`
	RevealRoleOnDeath        bool   `json:"reveal_role_on_death"`
	InvalidVotePolicy        string `json:"invalid_vote_policy"` // drop | random

	// Agents
	Providers        string `json:"providers"` // comma-separated, assigned round-robin: openai | claude | gemini | ollama | openai-compatible | random
	MaxMessageLength int    `json:"max_message_length"`
	MemoryLimit      int    `json:"memory_limit"` // agent memory window; 0 = unbounded
	Temperature      string `json:"temperature"`  // float 0-1 as string

	// Provider details
	OpenAIModel  string `json:"openai_model"`
	ClaudeModel  string `json:"claude_model"`
	GeminiModel  string `json:"gemini_model"`
	OllamaModel  string `json:"ollama_model"`
	OllamaURL    string `json:"ollama_url"`
	CompatURL    string `json:"compat_url"`     // base URL for openai-compatible
	CompatAPIKey string `json:"compat_api_key"` // API key for openai-compatible
}

func defaultConfig() AppConfig {
	return AppConfig{
		TranscriptDir:   "transcripts",
		SaveTranscripts: true,

		Villagers:  3,
		Mafiosi:    2,
		Doctors:    1,
		Detectives: 1,
		Godfathers: 1,

		DiscussionRounds:      3,
		VotingRounds:          1,
		MafiaDiscussionRounds: 2,

		GodfatherAppearsInnocent: true,
		RevealRoleOnDeath:        true,
		InvalidVotePolicy:        InvalidVoteDrop,

		Providers:        "random",
		MaxMessageLength: 200,
		MemoryLimit:      10,

		OpenAIModel: "gpt-4o-mini",
		ClaudeModel: "claude-3-7-sonnet-latest",
		GeminiModel: "gemini-2.0-flash-lite",
		OllamaModel: "llama3",
		OllamaURL:   "http://localhost:11434",
	}
}

// RoleDistribution returns the configured counts per role.
func (cfg AppConfig) RoleDistribution() map[Role]int {
	return map[Role]int{
		RoleVillager:  cfg.Villagers,
		RoleMafia:     cfg.Mafiosi,
		RoleDoctor:    cfg.Doctors,
		RoleDetective: cfg.Detectives,
		RoleGodfather: cfg.Godfathers,
	}
}

// NumPlayers returns the player count implied by the role distribution.
func (cfg AppConfig) NumPlayers() int {
	return cfg.Villagers + cfg.Mafiosi + cfg.Doctors + cfg.Detectives + cfg.Godfathers
}

// ProviderList splits the comma-separated provider string.
func (cfg AppConfig) ProviderList() []string {
	var out []string
	for _, p := range strings.Split(cfg.Providers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the game cannot run with.
func (cfg AppConfig) Validate() error {
	if cfg.NumPlayers() < 3 {
		return fmt.Errorf("config: need at least 3 players, role distribution sums to %d", cfg.NumPlayers())
	}
	if cfg.InvalidVotePolicy != InvalidVoteDrop && cfg.InvalidVotePolicy != InvalidVoteRandom {
		return fmt.Errorf("config: invalid_vote_policy must be %q or %q, got %q",
			InvalidVoteDrop, InvalidVoteRandom, cfg.InvalidVotePolicy)
	}
	if len(cfg.ProviderList()) == 0 {
		return fmt.Errorf("config: providers must name at least one agent provider")
	}
	return nil
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir: cfg.LogOutputDir,
		LogGame:   cfg.LogGame,
		LogDB:     cfg.LogDB,
		Debug:     cfg.LogDebug,
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string) (val int, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Config: ignoring %s=%q: %v", key, v, err)
			return 0, false
		}
		return n, true
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v := envStr("WATCH_ADDR"); v != "" {
		cfg.WatchAddr = v
	}
	if v := envStr("TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v, ok := envBool("SAVE_TRANSCRIPTS"); ok {
		cfg.SaveTranscripts = v
	}
	if v := envStr("SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_GAME"); ok {
		cfg.LogGame = v
	}
	if v, ok := envBool("LOG_DB"); ok {
		cfg.LogDB = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v, ok := envInt("VILLAGERS"); ok {
		cfg.Villagers = v
	}
	if v, ok := envInt("MAFIOSI"); ok {
		cfg.Mafiosi = v
	}
	if v, ok := envInt("DOCTORS"); ok {
		cfg.Doctors = v
	}
	if v, ok := envInt("DETECTIVES"); ok {
		cfg.Detectives = v
	}
	if v, ok := envInt("GODFATHERS"); ok {
		cfg.Godfathers = v
	}
	if v, ok := envInt("DISCUSSION_ROUNDS"); ok {
		cfg.DiscussionRounds = v
	}
	if v, ok := envInt("VOTING_ROUNDS"); ok {
		cfg.VotingRounds = v
	}
	if v, ok := envInt("MAFIA_DISCUSSION_ROUNDS"); ok {
		cfg.MafiaDiscussionRounds = v
	}
	if v, ok := envBool("ENABLE_REACTIONS"); ok {
		cfg.EnableReactions = v
	}
	if v, ok := envBool("ENABLE_MAFIA_REACTIONS"); ok {
		cfg.EnableMafiaReactions = v
	}
	if v, ok := envBool("GODFATHER_APPEARS_INNOCENT"); ok {
		cfg.GodfatherAppearsInnocent = v
	}
	if v, ok := envBool("REVEAL_ROLE_ON_DEATH"); ok {
		cfg.RevealRoleOnDeath = v
	}
	if v := envStr("INVALID_VOTE_POLICY"); v != "" {
		cfg.InvalidVotePolicy = v
	}
	if v := envStr("PROVIDERS"); v != "" {
		cfg.Providers = v
	}
	if v, ok := envInt("MAX_MESSAGE_LENGTH"); ok {
		cfg.MaxMessageLength = v
	}
	if v, ok := envInt("MEMORY_LIMIT"); ok {
		cfg.MemoryLimit = v
	}
	if v := envStr("TEMPERATURE"); v != "" {
		cfg.Temperature = v
	}
	if v := envStr("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := envStr("CLAUDE_MODEL"); v != "" {
		cfg.ClaudeModel = v
	}
	if v := envStr("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := envStr("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := envStr("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := envStr("COMPAT_URL"); v != "" {
		cfg.CompatURL = v
	}
	if v := envStr("COMPAT_API_KEY"); v != "" {
		cfg.CompatAPIKey = v
	}

	// JSON config file — only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	str("db", &cfg.DB)
	str("watch_addr", &cfg.WatchAddr)
	str("transcript_dir", &cfg.TranscriptDir)
	boolean("save_transcripts", &cfg.SaveTranscripts)
	if v, ok := m["seed"]; ok {
		json.Unmarshal(v, &cfg.Seed)
	}
	str("log_output_dir", &cfg.LogOutputDir)
	boolean("log_game", &cfg.LogGame)
	boolean("log_db", &cfg.LogDB)
	boolean("log_debug", &cfg.LogDebug)
	integer("villagers", &cfg.Villagers)
	integer("mafiosi", &cfg.Mafiosi)
	integer("doctors", &cfg.Doctors)
	integer("detectives", &cfg.Detectives)
	integer("godfathers", &cfg.Godfathers)
	integer("discussion_rounds", &cfg.DiscussionRounds)
	integer("voting_rounds", &cfg.VotingRounds)
	integer("mafia_discussion_rounds", &cfg.MafiaDiscussionRounds)
	boolean("enable_reactions", &cfg.EnableReactions)
	boolean("enable_mafia_reactions", &cfg.EnableMafiaReactions)
	boolean("godfather_appears_innocent", &cfg.GodfatherAppearsInnocent)
	boolean("reveal_role_on_death", &cfg.RevealRoleOnDeath)
	str("invalid_vote_policy", &cfg.InvalidVotePolicy)
	str("providers", &cfg.Providers)
	integer("max_message_length", &cfg.MaxMessageLength)
	integer("memory_limit", &cfg.MemoryLimit)
	str("temperature", &cfg.Temperature)
	str("openai_model", &cfg.OpenAIModel)
	str("claude_model", &cfg.ClaudeModel)
	str("gemini_model", &cfg.GeminiModel)
	str("ollama_model", &cfg.OllamaModel)
	str("ollama_url", &cfg.OllamaURL)
	str("compat_url", &cfg.CompatURL)
	str("compat_api_key", &cfg.CompatAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath            *string
	replay                *string
	db                    *string
	watchAddr             *string
	transcriptDir         *string
	saveTranscripts       *bool
	seed                  *int64
	logOutputDir          *string
	logGame               *bool
	logDB                 *bool
	logDebug              *bool
	villagers             *int
	mafiosi               *int
	doctors               *int
	detectives            *int
	godfathers            *int
	discussionRounds      *int
	votingRounds          *int
	mafiaDiscussionRounds *int
	enableReactions       *bool
	enableMafiaReactions  *bool
	godfatherInnocent     *bool
	revealRoleOnDeath     *bool
	invalidVotePolicy     *string
	providers             *string
	maxMessageLength      *int
	memoryLimit           *int
	temperature           *string
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags() flagValues {
	return flagValues{
		configPath:            flag.String("config", "config.json", "path to JSON config file"),
		replay:                flag.String("replay", "", "replay a saved transcript JSON instead of running a game"),
		db:                    flag.String("db", "", "sqlite connection string for the transcript store"),
		watchAddr:             flag.String("watch-addr", "", "HTTP listen address for the spectator page (e.g. :8080)"),
		transcriptDir:         flag.String("transcript-dir", "", "directory for JSON transcripts"),
		saveTranscripts:       flag.Bool("save-transcripts", true, "write a JSON transcript after the run"),
		seed:                  flag.Int64("seed", 0, "RNG seed (0 = time-based)"),
		logOutputDir:          flag.String("log-output-dir", "", "directory for extended log files"),
		logGame:               flag.Bool("log-game", false, "log the full game feed to a file"),
		logDB:                 flag.Bool("log-db", false, "log transcript database dumps"),
		logDebug:              flag.Bool("log-debug", false, "enable debug logging"),
		villagers:             flag.Int("villagers", 0, "number of Villager players"),
		mafiosi:               flag.Int("mafiosi", 0, "number of Mafia players"),
		doctors:               flag.Int("doctors", 0, "number of Doctor players"),
		detectives:            flag.Int("detectives", 0, "number of Detective players"),
		godfathers:            flag.Int("godfathers", 0, "number of Godfather players"),
		discussionRounds:      flag.Int("discussion-rounds", 0, "day discussion rounds"),
		votingRounds:          flag.Int("voting-rounds", 0, "day voting rounds"),
		mafiaDiscussionRounds: flag.Int("mafia-discussion-rounds", 0, "night mafia discussion rounds"),
		enableReactions:       flag.Bool("enable-reactions", false, "collect reactions during day discussion"),
		enableMafiaReactions:  flag.Bool("enable-mafia-reactions", false, "collect reactions during mafia discussion"),
		godfatherInnocent:     flag.Bool("godfather-innocent", true, "Godfather appears innocent to the Detective"),
		revealRoleOnDeath:     flag.Bool("reveal-role-on-death", true, "reveal a player's role when they die"),
		invalidVotePolicy:     flag.String("invalid-vote-policy", "", "invalid ballot handling: drop|random"),
		providers:             flag.String("providers", "", "comma-separated agent providers (openai|claude|gemini|ollama|openai-compatible|random)"),
		maxMessageLength:      flag.Int("max-message-length", 0, "maximum agent message length"),
		memoryLimit:           flag.Int("memory-limit", 0, "agent memory window (0 = unbounded)"),
		temperature:           flag.String("temperature", "", "sampling temperature 0-1"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "watch-addr":
			cfg.WatchAddr = *fv.watchAddr
		case "transcript-dir":
			cfg.TranscriptDir = *fv.transcriptDir
		case "save-transcripts":
			cfg.SaveTranscripts = *fv.saveTranscripts
		case "seed":
			cfg.Seed = *fv.seed
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-game":
			cfg.LogGame = *fv.logGame
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "villagers":
			cfg.Villagers = *fv.villagers
		case "mafiosi":
			cfg.Mafiosi = *fv.mafiosi
		case "doctors":
			cfg.Doctors = *fv.doctors
		case "detectives":
			cfg.Detectives = *fv.detectives
		case "godfathers":
			cfg.Godfathers = *fv.godfathers
		case "discussion-rounds":
			cfg.DiscussionRounds = *fv.discussionRounds
		case "voting-rounds":
			cfg.VotingRounds = *fv.votingRounds
		case "mafia-discussion-rounds":
			cfg.MafiaDiscussionRounds = *fv.mafiaDiscussionRounds
		case "enable-reactions":
			cfg.EnableReactions = *fv.enableReactions
		case "enable-mafia-reactions":
			cfg.EnableMafiaReactions = *fv.enableMafiaReactions
		case "godfather-innocent":
			cfg.GodfatherAppearsInnocent = *fv.godfatherInnocent
		case "reveal-role-on-death":
			cfg.RevealRoleOnDeath = *fv.revealRoleOnDeath
		case "invalid-vote-policy":
			cfg.InvalidVotePolicy = *fv.invalidVotePolicy
		case "providers":
			cfg.Providers = *fv.providers
		case "max-message-length":
			cfg.MaxMessageLength = *fv.maxMessageLength
		case "memory-limit":
			cfg.MemoryLimit = *fv.memoryLimit
		case "temperature":
			cfg.Temperature = *fv.temperature
		}
	})
}
