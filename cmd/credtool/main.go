// credtool writes an encrypted API credential file readable by the other
// binaries on this machine.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"exchange-core/internal/app"
	"exchange-core/internal/config"
	"exchange-core/internal/credentials"
	"exchange-core/internal/logger"
)

func main() {
	var (
		configPath string
		outPath    string
		key        string
		fromStdin  bool
	)
	flag.StringVar(&configPath, "config", "", "optional config yaml; supplies exchange.credentials_path")
	flag.StringVar(&outPath, "out", "", "credential file path (overrides config)")
	flag.StringVar(&key, "key", "", "API key (default $API_KEY)")
	flag.BoolVar(&fromStdin, "stdin", false, "read key and secret as two lines from stdin")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fatal(err.Error())
		}
		cfg = loaded
	}
	if outPath == "" {
		outPath = cfg.Exchange.CredentialsPath
	}

	var secret string
	if fromStdin {
		var err error
		key, secret, err = readPair(os.Stdin)
		if err != nil {
			fatal(err.Error())
		}
	} else {
		if key == "" {
			key = os.Getenv("API_KEY")
		}
		secret = os.Getenv("API_SECRET")
	}

	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		fatal(err.Error())
	}
	if err := save(outPath, key, secret, log); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("credentials written to %s\n", outPath)
}

func save(path, key, secret string, log *logger.Log) error {
	key = strings.TrimSpace(key)
	secret = strings.TrimSpace(secret)
	if path == "" {
		return errors.New("credential file path required")
	}
	if key == "" || secret == "" {
		return errors.New("both key and secret are required")
	}
	return credentials.Save(path, key, secret, log)
}

// readPair reads the key and the secret from the first two non-empty lines.
func readPair(r io.Reader) (string, string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() && len(lines) < 2 {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if len(lines) < 2 {
		return "", "", errors.New("stdin must contain the key and the secret on separate lines")
	}
	return lines[0], lines[1], nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
