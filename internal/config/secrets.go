package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/AaronLay10/carla-go/carla"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set. A nil lookup uses the process env.
func ResolveSecret(lookup carla.LookupFunc, envName string) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return resolveSecret(lookup, os.ReadFile, envName)
}

func resolveSecret(lookup carla.LookupFunc, readFile func(string) ([]byte, error), envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := Lookup(lookup, fileEnv, ""); filePath != "" {
		content, err := readFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return Lookup(lookup, envName, ""), nil
}
