package orchestrator

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// fillerPackFile is the YAML schema for filler packs under the data dir.
type fillerPackFile struct {
	Fillers []struct {
		ID       string `yaml:"id"`
		Text     string `yaml:"text"`
		Category string `yaml:"category"`
		OwnerID  string `yaml:"owner_id"`
	} `yaml:"fillers"`
}

// ParseFillerPack parses a filler pack YAML file. Entries without an id
// or text are rejected; an omitted category defaults to "general".
func ParseFillerPack(raw []byte) ([]Filler, error) {
	var file fillerPackFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("orchestrator: parse filler pack: %w", err)
	}

	fillers := make([]Filler, 0, len(file.Fillers))
	for i, f := range file.Fillers {
		if strings.TrimSpace(f.ID) == "" || strings.TrimSpace(f.Text) == "" {
			return nil, fmt.Errorf("orchestrator: filler pack entry %d: id and text are required", i)
		}
		category := f.Category
		if category == "" {
			category = "general"
		}
		fillers = append(fillers, Filler{
			ID:       f.ID,
			Text:     f.Text,
			Category: category,
			OwnerID:  f.OwnerID,
		})
	}
	return fillers, nil
}
