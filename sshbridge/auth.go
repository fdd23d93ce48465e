package sshbridge

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadAuthorizedKeys parses an OpenSSH authorized_keys file. Blank
// lines and # comments are skipped; options on a line are accepted and
// ignored.
func LoadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	return ParseAuthorizedKeys(data)
}

// ParseAuthorizedKeys parses authorized_keys content.
func ParseAuthorizedKeys(data []byte) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("authorized keys line %d: %w", lineNo, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// matchKey reports whether key appears in the authorized set.
func matchKey(authorized []ssh.PublicKey, key ssh.PublicKey) bool {
	if key == nil {
		return false
	}
	marshaled := key.Marshal()
	for _, candidate := range authorized {
		if candidate.Type() != key.Type() {
			continue
		}
		if bytes.Equal(candidate.Marshal(), marshaled) {
			return true
		}
	}
	return false
}
