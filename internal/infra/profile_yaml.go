package infra

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// profileFile is the on-disk layout of an exported profile list.
type profileFile struct {
	Version  int               `yaml:"version"`
	Profiles []*domain.Profile `yaml:"profiles"`
}

const profileFileVersion = 1

// ReadProfilesYAML decodes profiles written by WriteProfilesYAML.
func ReadProfilesYAML(r io.Reader) ([]*domain.Profile, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	if f.Version > profileFileVersion {
		return nil, fmt.Errorf("unsupported profile file version %d", f.Version)
	}
	for i, p := range f.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile #%d is empty", i+1)
		}
	}
	return f.Profiles, nil
}

// WriteProfilesYAML encodes profiles in list order.
func WriteProfilesYAML(w io.Writer, profiles []*domain.Profile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(profileFile{Version: profileFileVersion, Profiles: profiles}); err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	return enc.Close()
}
