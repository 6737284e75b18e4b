package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseCurlCommand(t *testing.T) {
	tt := []struct {
		name        string
		curlCmd     string
		wantSession string
		wantToken   string
		wantErr     bool
	}{
		{
			name:        "cookie header with single quotes",
			curlCmd:     `curl 'https://app.example.com/api/results' -H 'Cookie: theme=dark; session=abc123'`,
			wantSession: "abc123",
		},
		{
			name:        "cookie flag with double quotes",
			curlCmd:     `curl https://app.example.com -b "session=xyz; other=1"`,
			wantSession: "xyz",
		},
		{
			name:        "bearer token alongside cookie",
			curlCmd:     `curl https://app.example.com -H 'Authorization: Bearer tok-1' -H 'cookie: session=s1'`,
			wantSession: "s1",
			wantToken:   "tok-1",
		},
		{
			name: "multiline command",
			curlCmd: "curl 'https://app.example.com' \\\n" +
				"  -H 'accept: */*' \\\n" +
				"  -b 'session=multi'",
			wantSession: "multi",
		},
		{
			name:    "missing session cookie",
			curlCmd: `curl https://app.example.com -H 'Cookie: theme=dark'`,
			wantErr: true,
		},
		{
			name:    "no headers",
			curlCmd: `curl https://app.example.com`,
			wantErr: true,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCurlCommand([]byte(tc.curlCmd), "session")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrNoSession) {
					t.Errorf("expected ErrNoSession, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Session != tc.wantSession {
				t.Errorf("session = %q, want %q", got.Session, tc.wantSession)
			}
			if got.AccessToken != tc.wantToken {
				t.Errorf("access token = %q, want %q", got.AccessToken, tc.wantToken)
			}
		})
	}
}

func TestParseCurlFile(t *testing.T) {
	t.Run("reads command from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.sh")
		if err := os.WriteFile(path, []byte(`curl https://x -b 'sid=file-session'`), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		got, err := ParseCurlFile(path, "sid")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Session != "file-session" {
			t.Errorf("expected file-session, got %q", got.Session)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ParseCurlFile(filepath.Join(t.TempDir(), "nope.sh"), "sid"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
