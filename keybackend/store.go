package keybackend

// KeysConfig holds configuration for loading API keys.
type KeysConfig struct {
	Inline []Key  `mapstructure:"keys"`      // Inline keys from config
	File   string `mapstructure:"keys_file"` // Path to a JSON or YAML file of keys
}

// NewKeyStore creates a MapKeyStore from the given configuration.
// It loads keys from both inline config and file (if specified),
// merging them into a single store. File keys take precedence over inline keys
// if the same token appears in both.
func NewKeyStore(cfg KeysConfig) (*MapKeyStore, error) {
	tokens := make(map[string]string)

	for _, k := range cfg.Inline {
		if k.ID != "" && k.Token != "" {
			tokens[k.Token] = k.ID
		}
	}

	if cfg.File != "" {
		fileTokens, err := LoadKeysFromFile(cfg.File)
		if err != nil {
			return nil, err
		}
		for token, id := range fileTokens {
			tokens[token] = id
		}
	}

	return NewMapKeyStore(tokens), nil
}
