package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/aristath/harvester/internal/domain"
	"github.com/joho/godotenv"
)

// EnvKeyStore writes the credential list back into a .env file so minted
// keys survive restarts. Other variables in the file are preserved.
type EnvKeyStore struct {
	mu      sync.Mutex
	path    string
	varName string
}

// NewEnvKeyStore creates a key store for the given .env file and variable
func NewEnvKeyStore(path, varName string) *EnvKeyStore {
	if varName == "" {
		varName = DefaultKeysVar
	}
	return &EnvKeyStore{path: path, varName: varName}
}

// SaveCredentials implements domain.KeyStore
func (s *EnvKeyStore) SaveCredentials(creds []domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := godotenv.Read(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read env file %s: %w", s.path, err)
		}
		env = map[string]string{}
	}

	keys := make([]string, 0, len(creds))
	for _, c := range creds {
		keys = append(keys, string(c))
	}
	value := strings.Join(keys, ",")
	env[s.varName] = value

	if err := godotenv.Write(env, s.path); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", s.path, err)
	}

	// Keep the running process consistent with the file
	return os.Setenv(s.varName, value)
}
