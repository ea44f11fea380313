package memstore

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/systmms/rotator/pkg/secretstore"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML form of a store's contents.
type Fixture struct {
	Secrets []FixtureSecret `yaml:"secrets"`
}

// FixtureSecret is one secret in a fixture.
type FixtureSecret struct {
	ID              string           `yaml:"id"`
	RotationEnabled bool             `yaml:"rotationEnabled"`
	Versions        []FixtureVersion `yaml:"versions"`
}

// FixtureVersion is one version in a fixture. A nil Value stages the version
// without content, as BeginRotation does.
type FixtureVersion struct {
	ID     string   `yaml:"id"`
	Value  *string  `yaml:"value,omitempty"`
	Stages []string `yaml:"stages,omitempty"`
}

// ReadFixture decodes a fixture from r. An empty document is an empty fixture.
func ReadFixture(r io.Reader) (Fixture, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return Fixture{}, fmt.Errorf("failed to parse store fixture: %w", err)
	}
	return fx, nil
}

// Load replaces the store contents with the fixture read from r.
func (s *Store) Load(r io.Reader) error {
	fx, err := ReadFixture(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = make(map[string]*secret)
	for _, fs := range fx.Secrets {
		if fs.ID == "" {
			return fmt.Errorf("fixture secret without id")
		}
		sec := &secret{name: fs.ID, rotationEnabled: fs.RotationEnabled, versions: make(map[string]*version)}
		for _, fv := range fs.Versions {
			if fv.ID == "" {
				return fmt.Errorf("fixture secret %s has a version without id", fs.ID)
			}
			v := sec.version(fv.ID)
			if fv.Value != nil {
				v.value, v.hasValue = *fv.Value, true
			}
			for _, label := range fv.Stages {
				stage := secretstore.ParseStage(label)
				if other := sec.holder(stage); other != "" && other != fv.ID {
					return fmt.Errorf("fixture secret %s: stage %s on both %s and %s", fs.ID, stage, other, fv.ID)
				}
				v.stages.Add(stage)
			}
		}
		s.secrets[fs.ID] = sec
	}
	return nil
}

// LoadFile loads a fixture from path.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open store fixture: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.Load(f)
}

// Save writes the store contents to w as a fixture, in stable order.
func (s *Store) Save(w io.Writer) error {
	s.mu.Lock()
	fx := Fixture{}
	ids := make([]string, 0, len(s.secrets))
	for id := range s.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sec := s.secrets[id]
		fs := FixtureSecret{ID: id, RotationEnabled: sec.rotationEnabled}

		vids := make([]string, 0, len(sec.versions))
		for vid := range sec.versions {
			vids = append(vids, vid)
		}
		sort.Strings(vids)
		for _, vid := range vids {
			v := sec.versions[vid]
			fv := FixtureVersion{ID: vid}
			if v.hasValue {
				value := v.value
				fv.Value = &value
			}
			for _, stage := range v.stages.Stages() {
				fv.Stages = append(fv.Stages, string(stage))
			}
			fs.Versions = append(fs.Versions, fv)
		}
		fx.Secrets = append(fx.Secrets, fs)
	}
	s.mu.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(fx); err != nil {
		return fmt.Errorf("failed to write store fixture: %w", err)
	}
	return enc.Close()
}

// SaveFile writes the store contents to path.
func (s *Store) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create store fixture: %w", err)
	}
	if err := s.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
