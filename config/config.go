package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"siv/hasher"
	"siv/utils"
	"siv/version"

	"gopkg.in/yaml.v3"
)

const (
	ModeInit   = "init"
	ModeVerify = "verify"
)

type Config struct {
	Mode             string            `json:"mode" yaml:"mode"`
	Directory        string            `json:"directory" yaml:"directory"`
	BaselineFile     string            `json:"baseline_file" yaml:"baseline_file"`
	ReportFile       string            `json:"report_file" yaml:"report_file"`
	HashAlgorithm    string            `json:"hash_algorithm" yaml:"hash_algorithm"`
	ReportFormat     string            `json:"report_format" yaml:"report_format"`
	ExcludePatterns  []string          `json:"exclude_patterns" yaml:"exclude_patterns"`
	ConcurrencyLevel int               `json:"concurrency_level" yaml:"concurrency_level"`
	MaxIOPerSecond   int               `json:"max_io_per_second" yaml:"max_io_per_second"`
	Progress         bool              `json:"progress" yaml:"progress"`
	Force            bool              `json:"force" yaml:"force"`
	ChangeTimes      bool              `json:"change_times" yaml:"change_times"`
	LogLevel         string            `json:"log_level" yaml:"log_level"`
	ConfigFile       string            `json:"config_file" yaml:"-"`
	OtelEndpoint     string            `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv      bool              `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders      map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName  string            `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout      time.Duration     `json:"otel_timeout" yaml:"otel_timeout"`
	OtelExportPaths  bool              `json:"otel_export_paths" yaml:"otel_export_paths"`
	TraceFlight      bool              `json:"trace_flight" yaml:"trace_flight"`
	TraceFlightFile  string            `json:"trace_flight_file" yaml:"trace_flight_file"`
	TraceFlightMax   uint64            `json:"trace_flight_max_bytes" yaml:"trace_flight_max_bytes"`
	TraceFlightAge   time.Duration     `json:"trace_flight_min_age" yaml:"trace_flight_min_age"`
	DiagStall        time.Duration     `json:"diag_stall_threshold" yaml:"diag_stall_threshold"`
	DiagDir          string            `json:"diag_dir" yaml:"diag_dir"`
	ListHashes       bool              `json:"-" yaml:"-"`
	HashSet          bool              `json:"-" yaml:"-"`
}

// Defaults returns the configuration used before any file or flag applies.
func Defaults() *Config {
	return &Config{
		HashAlgorithm:    hasher.DefaultAlgorithm,
		ReportFormat:     "text",
		ExcludePatterns:  []string{},
		ConcurrencyLevel: runtime.NumCPU(),
		MaxIOPerSecond:   0,
		Progress:         false,
		LogLevel:         "info",
		OtelHeaders:      map[string]string{},
		OtelServiceName:  "siv",
		OtelTimeout:      5 * time.Second,
		TraceFlightFile:  "siv-flight.trace",
		DiagDir:          ".",
	}
}

func LoadConfig() (*Config, error) {
	cfg := Defaults()

	initMode := flag.Bool("init", false, "Initialization mode: scan the directory and write a new baseline.")
	verifyMode := flag.Bool("verify", false, "Verification mode: rescan the directory and compare it with the baseline.")
	directory := flag.String("dir", cfg.Directory, "Directory to monitor (required).")
	baselineFile := flag.String("baseline", cfg.BaselineFile, "Baseline file outside the monitored directory (required; .csv is appended when no extension is given, .zst compresses).")
	reportFile := flag.String("report", cfg.ReportFile, "Report file outside the monitored directory (required; .txt is appended when no extension is given).")
	hashAlgorithm := flag.String("hash", cfg.HashAlgorithm, fmt.Sprintf("Digest algorithm, initialization mode only (default: %s). See --list-hashes.", cfg.HashAlgorithm))
	reportFormat := flag.String("report-format", cfg.ReportFormat, "Report format: text, json or csv (default: text).")
	exclude := flag.String("exclude", "", "Comma-separated glob or regex patterns to skip (default: none).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, "Number of concurrent hashing workers (default: number of CPUs).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum content reads per second, 0 for unlimited (default: 0).")
	progress := flag.Bool("progress", cfg.Progress, "Show a progress bar on stderr (default: false).")
	force := flag.Bool("force", cfg.Force, "Overwrite an existing baseline or report (default: false).")
	changeTimes := flag.Bool("ctime", cfg.ChangeTimes, "Record inode change times in the baseline, initialization mode only; verification follows the baseline (default: false).")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error, fatal or panic (default: info).")
	configFile := flag.String("config", "", "Path to a JSON or YAML configuration file.")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: siv).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include file paths in OTEL payloads (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, "Keep a runtime trace flight recorder and dump it on exit or interrupt (default: false).")
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMax := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMax, "Max bytes for the flight recorder buffer (default: 0 for runtime default).")
	traceFlightAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightAge, "Minimum age of trace events to retain (default: 0).")
	diagStall := flag.Duration("diag-stall-threshold", cfg.DiagStall, "If positive, write stall diagnostics when a scan makes no progress for this long (default: 0/off).")
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	listHashes := flag.Bool("list-hashes", false, "Print the supported digest algorithms and exit.")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("SIV version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	modeFlags := 0
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "init":
			if *initMode {
				cfg.Mode = ModeInit
				modeFlags++
			}
		case "verify":
			if *verifyMode {
				cfg.Mode = ModeVerify
				modeFlags++
			}
		case "dir":
			cfg.Directory = *directory
		case "baseline":
			cfg.BaselineFile = *baselineFile
		case "report":
			cfg.ReportFile = *reportFile
		case "hash":
			cfg.HashAlgorithm = *hashAlgorithm
			cfg.HashSet = true
		case "report-format":
			cfg.ReportFormat = *reportFormat
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*exclude)
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "progress":
			cfg.Progress = *progress
		case "force":
			cfg.Force = *force
		case "ctime":
			cfg.ChangeTimes = *changeTimes
		case "log-level":
			cfg.LogLevel = *logLevel
		case "otel-endpoint":
			cfg.OtelEndpoint = *otelEndpoint
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = *otelServiceName
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMax = *traceFlightMax
		case "trace-flight-min-age":
			cfg.TraceFlightAge = *traceFlightAge
		case "diag-stall-threshold":
			cfg.DiagStall = *diagStall
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "list-hashes":
			cfg.ListHashes = *listHashes
		}
	})
	if modeFlags > 1 {
		return nil, fmt.Errorf("--init and --verify are mutually exclusive")
	}
	if cfg.ListHashes {
		return cfg, nil
	}

	cfg.applyExtensions()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("SIV - System Integrity Verifier")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  siv --init   --dir <directory> --baseline <file> --report <file> [options]")
	fmt.Println("  siv --verify --dir <directory> --baseline <file> --report <file> [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  siv --init --dir /etc --baseline /var/lib/siv/etc.csv --report /var/log/siv/init.txt --hash sha512")
	fmt.Println("  siv --verify --dir /etc --baseline /var/lib/siv/etc.csv --report /var/log/siv/verify.json --report-format json")
	fmt.Println()
	fmt.Println("Exit status: 0 no changes, 1 error, 2 changes detected.")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if _, ok := raw["hash_algorithm"]; ok {
			cfg.HashSet = true
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if _, ok := raw["hash_algorithm"]; ok {
			cfg.HashSet = true
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	}
	return nil
}

// applyExtensions gives a baseline without an extension ".csv" and a report
// without an extension ".txt".
func (cfg *Config) applyExtensions() {
	if cfg.BaselineFile != "" && filepath.Ext(cfg.BaselineFile) == "" {
		cfg.BaselineFile += ".csv"
	}
	if cfg.ReportFile != "" && filepath.Ext(cfg.ReportFile) == "" {
		cfg.ReportFile += ".txt"
	}
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.ReportFormat) == "" {
		cfg.ReportFormat = "text"
	}
	if strings.TrimSpace(cfg.HashAlgorithm) == "" {
		cfg.HashAlgorithm = hasher.DefaultAlgorithm
	}
	cfg.ReportFormat = strings.ToLower(cfg.ReportFormat)

	if cfg.Mode != ModeInit && cfg.Mode != ModeVerify {
		return fmt.Errorf("exactly one of --init or --verify must be specified")
	}
	if strings.TrimSpace(cfg.Directory) == "" {
		return fmt.Errorf("--dir is required")
	}
	if strings.TrimSpace(cfg.BaselineFile) == "" {
		return fmt.Errorf("--baseline is required")
	}
	if strings.TrimSpace(cfg.ReportFile) == "" {
		return fmt.Errorf("--report is required")
	}
	if cfg.Mode == ModeVerify && cfg.HashSet {
		return fmt.Errorf("--hash is only valid with --init; verification uses the baseline's algorithm")
	}
	if !hasher.Supported(cfg.HashAlgorithm) {
		return fmt.Errorf("unsupported hash algorithm: %s (see --list-hashes)", cfg.HashAlgorithm)
	}
	cfg.HashAlgorithm = hasher.Normalize(cfg.HashAlgorithm)
	if cfg.ReportFormat != "text" && cfg.ReportFormat != "json" && cfg.ReportFormat != "csv" {
		return fmt.Errorf("invalid report format: %s", cfg.ReportFormat)
	}
	if err := utils.ValidatePatterns(cfg.ExcludePatterns); err != nil {
		return err
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.TraceFlight && strings.TrimSpace(cfg.TraceFlightFile) == "" {
		cfg.TraceFlightFile = "siv-flight.trace"
	}
	if cfg.DiagStall < 0 {
		return fmt.Errorf("diag-stall-threshold must be zero or positive")
	}
	if strings.TrimSpace(cfg.DiagDir) == "" {
		cfg.DiagDir = "."
	}
	if cfg.TraceFlightAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := items[:0]
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
