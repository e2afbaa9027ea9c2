package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/pbkdf2"
)

// DesktopBrowser is the browser name that selects the Claude desktop app store.
const DesktopBrowser = "claude-desktop"

var desktopCookieNames = []string{"sessionKey", "cf_clearance", "anthropic-device-id", "lastActiveOrg", "__cf_bm"}

// DesktopCookies reads the Chromium cookie database of the Claude desktop
// app. Path and Key default to the macOS locations.
type DesktopCookies struct {
	Path string
	Key  func(ctx context.Context) ([]byte, error)
}

func (d DesktopCookies) Cookies(ctx context.Context, _, profilePath string) (map[string]string, error) {
	path := firstNonEmpty(profilePath, d.Path)
	keyFn := d.Key
	if path == "" || keyFn == nil {
		if runtime.GOOS != "darwin" {
			return nil, fmt.Errorf("claude desktop cookies are only readable on macOS")
		}
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolving home dir: %w", err)
			}
			path = filepath.Join(home, "Library", "Application Support", "Claude", "Cookies")
		}
		if keyFn == nil {
			keyFn = keychainKey
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("claude desktop cookie db: %w", err)
	}
	key, err := keyFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("cookie encryption key: %w", err)
	}

	// The app holds a lock on the live file; read a private copy.
	tmpPath, err := copyToTemp(path)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	db, err := sql.Open("sqlite3", "file:"+tmpPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening cookie db: %w", err)
	}
	defer db.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(desktopCookieNames)), ",")
	args := make([]any, len(desktopCookieNames))
	for i, name := range desktopCookieNames {
		args[i] = name
	}
	rows, err := db.QueryContext(ctx,
		"SELECT name, encrypted_value FROM cookies WHERE host_key LIKE '%claude.ai%' AND name IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying cookies: %w", err)
	}
	defer rows.Close()

	jar := make(map[string]string)
	for rows.Next() {
		var name string
		var enc []byte
		if err := rows.Scan(&name, &enc); err != nil {
			continue
		}
		value, err := decryptChromiumCookie(enc, key)
		if err != nil {
			continue
		}
		jar[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	if jar["sessionKey"] == "" {
		return nil, ErrNoSessionCookie
	}
	return jar, nil
}

func copyToTemp(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading cookie db: %w", err)
	}
	tmp, err := os.CreateTemp("", "apiusage-cookies-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("writing temp cookie db: %w", err)
	}
	return tmpPath, nil
}

func keychainKey(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "security", "find-generic-password", "-w", "-s", "Claude Safe Storage", "-a", "Claude").Output()
	if err != nil {
		return nil, fmt.Errorf("keychain lookup failed (is Claude desktop installed?): %w", err)
	}
	return DeriveChromiumKey(strings.TrimSpace(string(out))), nil
}

// DeriveChromiumKey turns the "Safe Storage" password into the AES-128 key
// Chromium uses on macOS.
func DeriveChromiumKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte("saltysalt"), 1003, 16, sha1.New)
}

// chromiumIV is sixteen spaces.
var chromiumIV = []byte("                ")

// Recent Chromium versions prepend a 32-byte SHA-256 of the host to the value.
const chromiumDomainHashLen = 32

func decryptChromiumCookie(encrypted, key []byte) (string, error) {
	if len(encrypted) < 3 || string(encrypted[:3]) != "v10" {
		return "", errors.New("unsupported cookie encryption version")
	}
	ciphertext := encrypted[3:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext not aligned to block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, chromiumIV).CryptBlocks(plaintext, ciphertext)

	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return "", errors.New("invalid PKCS7 padding")
	}
	plaintext = plaintext[:len(plaintext)-padLen]

	if len(plaintext) <= chromiumDomainHashLen {
		return "", fmt.Errorf("decrypted value too short (len=%d)", len(plaintext))
	}
	return string(plaintext[chromiumDomainHashLen:]), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
