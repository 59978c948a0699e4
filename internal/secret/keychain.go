package secret

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

const keychainService = "dbconduit"

// KeychainStore reads secrets from the OS keychain: the macOS `security`
// tool, or libsecret's `secret-tool` elsewhere. Entries live under the
// "dbconduit" service, so a URL placeholder {{secret:prod-pg}} reads
// account "prod-pg".
type KeychainStore struct {
	goos string
	run  func(name string, args ...string) ([]byte, error)
}

// NewKeychainStore creates a KeychainStore for the running OS.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{goos: runtime.GOOS, run: runTool}
}

func runTool(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Get returns the secret stored for key. A missing entry yields nil and no
// error; any other tool failure is returned.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	name, args := k.lookup(key)
	out, err := k.run(name, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && notFound(name, exitErr.ExitCode()) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain %s: %w", name, err)
	}
	return bytes.TrimRight(out, "\r\n"), nil
}

func (k *KeychainStore) lookup(key string) (string, []string) {
	if k.goos == "darwin" {
		return "security", []string{"find-generic-password", "-a", key, "-s", keychainService, "-w"}
	}
	return "secret-tool", []string{"lookup", "service", keychainService, "account", key}
}

// security exits 44 for a missing item, secret-tool exits 1.
func notFound(tool string, code int) bool {
	switch tool {
	case "security":
		return code == 44
	case "secret-tool":
		return code == 1
	}
	return false
}
