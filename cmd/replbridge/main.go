package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"replbridge/internal/config"
	"replbridge/internal/logging"
)

const Version = "0.3.0"

func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color output based on terminal
// capabilities. REPLBRIDGE_COLOR overrides auto-detection.
func initColorProfile() {
	if colorEnv := os.Getenv("REPLBRIDGE_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if ct := os.Getenv("COLORTERM"); ct == "truecolor" || ct == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	cfgPath, args := extractConfigFlag(os.Args[1:])

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("replbridge v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "run":
			handleRun(cfgPath, args[1:])
			return
		case "attach":
			handleAttach(cfgPath, args[1:])
			return
		case "history":
			handleHistory(cfgPath, args[1:])
			return
		case "web":
			handleWeb(cfgPath, args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand: open the interactive monitor.
	handleRun(cfgPath, nil)
}

// extractConfigFlag pulls a global -c/--config flag out of args before
// subcommand dispatch, returning the config path and the remaining args.
func extractConfigFlag(args []string) (string, []string) {
	var path string
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-c=") {
			path = strings.TrimPrefix(arg, "-c=")
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			path = strings.TrimPrefix(arg, "--config=")
			continue
		}
		if arg == "-c" || arg == "--config" {
			if i+1 < len(args) {
				i++
				path = args[i]
			}
			continue
		}
		remaining = append(remaining, arg)
	}
	return path, remaining
}

// loadConfig loads the TOML config, or exits with a usable error message.
func loadConfig(cfgPath string) *config.Config {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// initLogging sets up structured logging from the config. Without debug
// mode or an explicit log dir, logs are discarded so they cannot corrupt
// the terminal UI.
func initLogging(cfg *config.Config) {
	debugMode := cfg.Log.Debug || os.Getenv("REPLBRIDGE_DEBUG") != ""

	logDir := cfg.Log.Dir
	if logDir == "" && debugMode {
		if dir, err := config.BridgeDir(); err == nil {
			logDir = dir
		}
	}

	logging.Init(logging.Config{
		Debug:      debugMode,
		LogDir:     logDir,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
}

func printHelp() {
	fmt.Printf("replbridge v%s\n", Version)
	fmt.Println("Command/response bridge for prompt-driven interpreters")
	fmt.Println()
	fmt.Println("Usage: replbridge [-c config.toml] [command]")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  -c, --config <path>    Config file (default: ~/.replbridge/config.toml)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none), run      Start the interpreter with the interactive monitor")
	fmt.Println("  attach           Start the interpreter and attach the raw terminal")
	fmt.Println("  history          Show recorded session transcripts")
	fmt.Println("  web              Run headless with only the HTTP/websocket bridge")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Run Options:")
	fmt.Println("  replbridge run [--dir path] [--command idl] [--theme dark|light|system]")
	fmt.Println()
	fmt.Println("History Commands:")
	fmt.Println("  replbridge history               Show the latest run's transcript")
	fmt.Println("  replbridge history --run <id>    Show a specific run")
	fmt.Println("  replbridge history list          List recorded runs")
	fmt.Println()
	fmt.Println("Monitor Keys:")
	fmt.Println("  enter            Send the typed command")
	fmt.Println("  f5/f6/f7/f8      Continue / step / step over / step out")
	fmt.Println("  ctrl+up/down     Move up/down the call stack")
	fmt.Println("  ctrl+e           Toggle the error log overlay")
	fmt.Println("  ctrl+n / ctrl+p  Jump to next/previous logged error")
	fmt.Println("  ctrl+y           Copy the current stop location to the clipboard")
	fmt.Println("  ctrl+c           Interrupt the interpreter (quit when stopped)")
}
