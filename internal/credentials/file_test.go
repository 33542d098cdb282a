package credentials

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testFile(t *testing.T, profile string) *File {
	t.Helper()
	f := NewFile(filepath.Join(t.TempDir(), "binance.hash"), nil)
	f.profile = func() ([]byte, error) { return []byte(profile), nil }
	return f
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := testFile(t, "alice\x001000\x00/home/alice")
	if err := f.Save("api-key-123", "api-secret-456"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	creds, ok := f.Load()
	if !ok {
		t.Fatalf("Load() ok = false, want true")
	}
	if creds.Key() != "api-key-123" {
		t.Fatalf("Key() = %q, want api-key-123", creds.Key())
	}
	if string(creds.Secret()) != "api-secret-456" {
		t.Fatalf("Secret() = %q, want api-secret-456", string(creds.Secret()))
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileHoldsThreeBase64LinesWithoutPlaintext(t *testing.T) {
	f := testFile(t, "bob")
	if err := f.Save("visible-key", "visible-secret"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "visible") {
		t.Fatalf("credential file contains plaintext")
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for i, line := range lines {
		if _, err := base64.StdEncoding.DecodeString(line); err != nil {
			t.Fatalf("line %d not base64: %v", i+1, err)
		}
	}
}

func TestSaveUsesFreshEntropy(t *testing.T) {
	f := testFile(t, "carol")
	if err := f.Save("k", "s"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	first, _ := os.ReadFile(f.Path)
	if err := f.Save("k", "s"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second, _ := os.ReadFile(f.Path)
	if string(first) == string(second) {
		t.Fatalf("two saves produced identical files")
	}
}

func TestLoadMissingFileIsAbsent(t *testing.T) {
	f := testFile(t, "dave")
	if creds, ok := f.Load(); ok || creds != nil {
		t.Fatalf("Load(missing) = %v, %v, want nil, false", creds, ok)
	}
}

func TestLoadMalformedFileIsAbsent(t *testing.T) {
	f := testFile(t, "erin")
	cases := []string{
		"",
		"only-one-line\n",
		"a\nb\n",
		"!!!\n!!!\n!!!\n",
		base64.StdEncoding.EncodeToString([]byte("short")) + "\nAAAA\nAAAA\n",
	}
	for _, body := range cases {
		if err := os.WriteFile(f.Path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, ok := f.Load(); ok {
			t.Fatalf("Load(%q) ok = true, want false", body)
		}
	}
}

func TestLoadWithDifferentProfileFails(t *testing.T) {
	f := testFile(t, "frank")
	if err := f.Save("k", "s"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	other := NewFile(f.Path, nil)
	other.profile = func() ([]byte, error) { return []byte("mallory"), nil }
	if _, ok := other.Load(); ok {
		t.Fatalf("Load() with another profile ok = true, want false")
	}
}

func TestSwappedLinesFailAuthentication(t *testing.T) {
	f := testFile(t, "grace")
	if err := f.Save("k", "s"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, _ := os.ReadFile(f.Path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	swapped := lines[0] + "\n" + lines[2] + "\n" + lines[1] + "\n"
	if err := os.WriteFile(f.Path, []byte(swapped), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, ok := f.Load(); ok {
		t.Fatalf("Load(swapped) ok = true, want false")
	}
}

func TestSaveRejectsEmptyValues(t *testing.T) {
	f := testFile(t, "heidi")
	if err := f.Save("", "s"); err == nil {
		t.Fatalf("Save(empty key) error = nil, want error")
	}
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Fatalf("Save(empty key) wrote a file")
	}
}

func TestZeroWipesCredentials(t *testing.T) {
	c := New("k", "s")
	secret := c.secret
	c.Zero()
	if c.Valid() {
		t.Fatalf("Valid() after Zero() = true, want false")
	}
	for _, b := range secret {
		if b != 0 {
			t.Fatalf("secret buffer not wiped: %v", secret)
		}
	}
	if got := New("k", "s").String(); got != "credentials(redacted)" {
		t.Fatalf("String() = %q leaks content", got)
	}
}
