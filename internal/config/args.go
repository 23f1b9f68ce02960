package config

import (
	"fmt"
	"strconv"
)

// ErrHelpRequested is returned by ParseArgs when -h/--help was given; the
// caller should print usage and exit 0 rather than treating it as failure.
var ErrHelpRequested = fmt.Errorf("help requested")

// ParseArgs overlays command-line arguments onto cfg following spec.md
// §6's grammar: "[-p|--port N] [-c|--cache SIZE_MB] [-h|--help]", plus the
// positional forms "prog PORT" and "prog PORT CACHE_MB". args excludes the
// program name (i.e. pass os.Args[1:]). Grounded on
// original_source/main.c: parse_arguments, including its positional-form
// restriction to exactly one or two bare arguments.
func ParseArgs(cfg *Config, args []string) error {
	if len(args) == 1 && isPositionalInt(args[0]) {
		port, err := parsePort(args[0])
		if err != nil {
			return err
		}
		cfg.Server.Port = port
		return nil
	}
	if len(args) == 2 && isPositionalInt(args[0]) && isPositionalInt(args[1]) {
		port, err := parsePort(args[0])
		if err != nil {
			return err
		}
		size, err := parseCacheSize(args[1])
		if err != nil {
			return err
		}
		cfg.Server.Port = port
		cfg.Cache.MaxSizeMB = size
		return nil
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			return ErrHelpRequested
		case "-p", "--port":
			if i+1 >= len(args) {
				return fmt.Errorf("config: %s requires a value", args[i])
			}
			i++
			port, err := parsePort(args[i])
			if err != nil {
				return err
			}
			cfg.Server.Port = port
		case "-c", "--cache":
			if i+1 >= len(args) {
				return fmt.Errorf("config: %s requires a value", args[i])
			}
			i++
			size, err := parseCacheSize(args[i])
			if err != nil {
				return err
			}
			cfg.Cache.MaxSizeMB = size
		default:
			return fmt.Errorf("config: unknown option: %s", args[i])
		}
	}
	return nil
}

func isPositionalInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("config: invalid port number: %s", s)
	}
	return n, nil
}

func parseCacheSize(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid cache size: %s", s)
	}
	return n, nil
}

// Usage returns the help text printed for -h/--help, matching
// original_source/main.c: print_usage's shape.
func Usage(progName string) string {
	return fmt.Sprintf(`Usage: %s [OPTIONS]

Options:
  -p, --port PORT          Listen port (default: 8080)
  -c, --cache SIZE         Cache size in MB (default: 100)
  -h, --help               Show this help message

Examples:
  %s -p 8080 -c 200
  %s --port 3128 --cache 500
`, progName, progName, progName)
}
