package process

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		cmdline  string
		wantPath string
		wantArgv []string
		wantEnv  []string
	}{
		{
			name:     "simple",
			cmdline:  "/usr/bin/ls -l /tmp",
			wantPath: "/usr/bin/ls",
			wantArgv: []string{"/usr/bin/ls", "-l", "/tmp"},
		},
		{
			name:     "quoted arguments",
			cmdline:  `check_http -H 'example.com' -s "hello world"`,
			wantPath: "check_http",
			wantArgv: []string{"check_http", "-H", "example.com", "-s", "hello world"},
		},
		{
			name:     "escaped space",
			cmdline:  `/opt/my\ plugins/check -w 1`,
			wantPath: "/opt/my plugins/check",
			wantArgv: []string{"/opt/my plugins/check", "-w", "1"},
		},
		{
			name:     "leading environment",
			cmdline:  "LANG=C TZ=UTC /bin/date",
			wantPath: "/bin/date",
			wantArgv: []string{"/bin/date"},
			wantEnv:  []string{"LANG=C", "TZ=UTC"},
		},
		{
			name:     "equal sign in argument",
			cmdline:  "check_snmp -o sysUpTime=1",
			wantPath: "check_snmp",
			wantArgv: []string{"check_snmp", "-o", "sysUpTime=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseArgs(tt.cmdline)
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if args.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", args.Path, tt.wantPath)
			}
			if !reflect.DeepEqual(args.Argv, tt.wantArgv) {
				t.Errorf("Argv = %q, want %q", args.Argv, tt.wantArgv)
			}
			if !reflect.DeepEqual(args.Env, tt.wantEnv) {
				t.Errorf("Env = %q, want %q", args.Env, tt.wantEnv)
			}
		})
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		wantErr error
	}{
		{"empty", "", ErrEmptyCommandLine},
		{"blank", "   \t", ErrEmptyCommandLine},
		{"only env", "FOO=bar", ErrEmptyCommandLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.cmdline)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseArgs(%q) error = %v, want %v", tt.cmdline, err, tt.wantErr)
			}
		})
	}

	if _, err := ParseArgs(`echo "unterminated`); err == nil {
		t.Error("ParseArgs(unterminated quote) should fail")
	}
}

func TestArgsCache(t *testing.T) {
	cache := NewArgsCache()

	a1, err := cache.Get("/bin/echo hello")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	a2, err := cache.Get("/bin/echo hello")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a1 != a2 {
		t.Error("Get() should return the cached *Args for the same command line")
	}

	if _, err := cache.Get(""); err == nil {
		t.Error("Get(\"\") should fail")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}
