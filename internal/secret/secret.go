// Package secret implements secure environment values: age-encrypted
// strings that are sealed in the pipeline file and decrypted with an
// identity file at job start. Ciphertext is base64-encoded so it fits in
// a YAML scalar.
package secret

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Decrypter unseals secure values with one or more age identities.
type Decrypter struct {
	identities []age.Identity
}

// LoadIdentityFile reads an age identity file (as written by age-keygen)
// and returns a Decrypter for its identities.
func LoadIdentityFile(path string) (*Decrypter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer func() { _ = f.Close() }()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return &Decrypter{identities: identities}, nil
}

// Decrypt unseals a base64-encoded age ciphertext and returns the
// plaintext.
func (d *Decrypter) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), d.identities...)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return string(plaintext), nil
}

// RecipientsFromIdentityFile derives the X25519 recipients for the
// identities in an age identity file, so values can be sealed to the
// same keys that later unseal them.
func RecipientsFromIdentityFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer func() { _ = f.Close() }()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}

	var recipients []string
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			recipients = append(recipients, x.Recipient().String())
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no X25519 identities in %s", path)
	}
	return recipients, nil
}

// Encrypt seals plaintext to the given age recipients and returns the
// base64-encoded ciphertext for use in a secure block.
func Encrypt(plaintext string, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Masker redacts known secret values from log output so decrypted
// plaintext never reaches the console or stored logs.
type Masker struct {
	secrets []string
}

// NewMasker builds a masker for the given plaintext values. Empty values
// are ignored.
func NewMasker(values []string) *Masker {
	m := &Masker{}
	for _, v := range values {
		if v != "" {
			m.secrets = append(m.secrets, v)
		}
	}
	return m
}

// Add registers another value to redact.
func (m *Masker) Add(value string) {
	if value != "" {
		m.secrets = append(m.secrets, value)
	}
}

// Mask replaces every occurrence of a known secret in s with [secure].
func (m *Masker) Mask(s string) string {
	for _, v := range m.secrets {
		s = strings.ReplaceAll(s, v, "[secure]")
	}
	return s
}

// MaskWriter wraps w so everything written through it is masked. Writes
// are line-buffered only in the sense that masking applies per Write
// call; callers writing a secret split across two writes would leak, so
// step output is flushed line-wise.
type MaskWriter struct {
	W      io.Writer
	Masker *Masker
}

func (mw *MaskWriter) Write(p []byte) (int, error) {
	masked := mw.Masker.Mask(string(p))
	if _, err := io.WriteString(mw.W, masked); err != nil {
		return 0, err
	}
	return len(p), nil
}
