package wickchat

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"wick_chat/models"
)

// modelsFile is the top-level structure of models.yaml.
type modelsFile struct {
	Defaults *modelDefaults           `yaml:"defaults"`
	Models   map[string]*models.Model `yaml:"models"`
}

type modelDefaults struct {
	AssistantID  string         `yaml:"assistant_id"`
	Configurable map[string]any `yaml:"configurable"`
}

// DefaultModelID is registered when no models file is configured.
const DefaultModelID = "default"

// LoadModelsFile reads models.yaml and registers every model in reg.
// Defaults fill in a missing assistant id and configurable keys a model does
// not set itself.
func LoadModelsFile(path string, reg *models.Registry) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models config: %w", err)
	}

	var cfg modelsFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse models config: %w", err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("models config %s defines no models", path)
	}

	ids := make([]string, 0, len(cfg.Models))
	for id := range cfg.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := cfg.Models[id]
		if m == nil {
			m = &models.Model{}
		}
		m.ID = id
		// Merge defaults
		if cfg.Defaults != nil {
			if m.AssistantID == "" {
				m.AssistantID = cfg.Defaults.AssistantID
			}
			if len(cfg.Defaults.Configurable) > 0 {
				merged := make(map[string]any, len(cfg.Defaults.Configurable)+len(m.Configurable))
				for k, v := range cfg.Defaults.Configurable {
					merged[k] = v
				}
				for k, v := range m.Configurable {
					merged[k] = v
				}
				m.Configurable = merged
			}
		}
		if err := reg.Register(*m); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RegisterDefaultModel registers the built-in model used when no models file
// is given.
func RegisterDefaultModel(reg *models.Registry) error {
	return reg.Register(models.Model{
		ID:          DefaultModelID,
		Label:       "Default",
		AssistantID: models.DefaultAssistantID,
	})
}
