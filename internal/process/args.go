package process

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommandLine is returned when a command line has no executable.
var ErrEmptyCommandLine = errors.New("empty command")

// Args is the immutable description of an external command.
type Args struct {
	// Path is the executable, resolved through PATH at spawn time when it
	// has no slash.
	Path string

	// Argv is the full argument vector, Argv[0] included.
	Argv []string

	// Env is appended to the agent environment when not empty.
	Env []string
}

// ParseArgs splits a command line using POSIX shell quoting rules.
// Leading VAR=value words become environment entries.
func ParseArgs(cmdline string) (*Args, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false

	words, err := parser.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse command line %q: %w", cmdline, err)
	}

	var env []string
	for len(words) > 0 && isEnvAssignment(words[0]) {
		env = append(env, words[0])
		words = words[1:]
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommandLine
	}

	return &Args{
		Path: words[0],
		Argv: words,
		Env:  env,
	}, nil
}

func isEnvAssignment(word string) bool {
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case c == '=':
			return i > 0
		case c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return false
}

// ArgsCache memoizes ParseArgs per command line.
type ArgsCache struct {
	mu      sync.Mutex
	entries map[string]*Args
}

// NewArgsCache creates an empty cache.
func NewArgsCache() *ArgsCache {
	return &ArgsCache{entries: make(map[string]*Args)}
}

// Get returns the parsed arguments for cmdline. Parse errors are not cached.
func (c *ArgsCache) Get(cmdline string) (*Args, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if args, ok := c.entries[cmdline]; ok {
		return args, nil
	}
	args, err := ParseArgs(cmdline)
	if err != nil {
		return nil, err
	}
	c.entries[cmdline] = args
	return args, nil
}

// Len returns the number of cached command lines.
func (c *ArgsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
