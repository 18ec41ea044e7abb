package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type LookupFunc func(key string) (string, bool)

// Lookup returns a variable lookup backed by the process environment and, as
// a fallback, the .env file in dir. The process environment is not modified.
func Lookup(dir string) (LookupFunc, error) {
	vars, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}
