package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const defaultPrompt = "Enter signer keystore passphrase: "

// Source resolves a signer keystore passphrase from an environment variable
// or a terminal prompt. The first result is cached.
type Source struct {
	envVar  string
	prompt  string
	confirm bool
	readFn  func() (string, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithPrompt replaces the terminal prompt.
func WithPrompt(prompt string) Option {
	return func(s *Source) {
		if strings.TrimSpace(prompt) != "" {
			s.prompt = prompt
		}
	}
}

// WithConfirmation asks twice on the terminal and rejects a mismatch. Used
// when a new keystore is written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// NewSource checks envVar before prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{envVar: strings.TrimSpace(envVar), prompt: defaultPrompt, readFn: readTerminal}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. A set environment variable wins even over a
// terminal; whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if s.readFn == nil {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}

	fmt.Fprint(os.Stderr, s.prompt)
	first, err := s.readFn()
	if err != nil {
		return "", s.readError(err)
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if s.confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		second, err := s.readFn()
		if err != nil {
			return "", s.readError(err)
		}
		if second != first {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

var errNoTerminal = errors.New("no terminal")

func (s *Source) readError(err error) error {
	if errors.Is(err, errNoTerminal) {
		if s.envVar != "" {
			return fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return errors.New("keystore passphrase required and no terminal available")
	}
	return fmt.Errorf("failed to read passphrase: %w", err)
}

func readTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
