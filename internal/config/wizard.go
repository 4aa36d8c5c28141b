package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard on stdin and stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard reading answers from in
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// GenerateSecret returns a random gateway shared secret
func GenerateSecret() (string, error) {
	return gonanoid.New(32)
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== cmdq Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "Gateway:")
	fmt.Fprintf(w.out, "Port [%d]: ", cfg.Gateway.Port)
	for {
		answer, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if answer == "" {
			break
		}
		port, err := strconv.Atoi(answer)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			fmt.Fprintf(w.out, "Error: %v\nPort [%d]: ", err, cfg.Gateway.Port)
			continue
		}
		cfg.Gateway.Port = port
		break
	}

	fmt.Fprint(w.out, "Shared secret (press Enter to generate): ")
	for {
		secret, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if secret == "" {
			if secret, err = GenerateSecret(); err != nil {
				return nil, fmt.Errorf("failed to generate secret: %w", err)
			}
			fmt.Fprintln(w.out, "Generated a random shared secret")
		}
		if err := validator.ValidateSharedSecret(secret); err != nil {
			fmt.Fprintf(w.out, "Error: %v\nShared secret (press Enter to generate): ", err)
			continue
		}
		cfg.Gateway.SharedSecret = secret
		break
	}
	fmt.Fprintln(w.out)

	fmt.Fprint(w.out, "Start processing queued commands when the daemon starts? (y/n) [y]: ")
	answer, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Processor.AutoStart = answer == "" || strings.EqualFold(answer, "y")

	fmt.Fprint(w.out, "Watch a spool directory for command files? (y/n) [y]: ")
	answer, err = w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Spool.Enabled = answer == "" || strings.EqualFold(answer, "y")
	fmt.Fprintln(w.out)

	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
