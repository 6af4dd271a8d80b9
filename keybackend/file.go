package keybackend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key is an API key: a public id used as the caller's identity and the
// secret bearer token that proves it.
type Key struct {
	ID    string `json:"id" yaml:"id" mapstructure:"id"`
	Token string `json:"token" yaml:"token" mapstructure:"token"`
}

// LoadKeysFromFile loads API keys from a JSON or YAML file, chosen by
// extension (.yaml and .yml are YAML, anything else JSON). The file holds a
// list of keys:
//
//	[
//	  {"id": "deploy-bot", "token": "s3cr3t..."},
//	  {"id": "ci", "token": "an0ther..."}
//	]
//
// Returns a map of token to key id. Entries with an empty id or token are
// skipped.
func LoadKeysFromFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from trusted config file
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	var keys []Key
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &keys)
	default:
		err = json.Unmarshal(data, &keys)
	}
	if err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}

	tokens := make(map[string]string, len(keys))
	for _, k := range keys {
		if k.ID != "" && k.Token != "" {
			tokens[k.Token] = k.ID
		}
	}

	return tokens, nil
}
