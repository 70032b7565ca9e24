package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
)

// ErrUnsupportedFormat is returned for policy files that are neither TOML
// nor YAML.
var ErrUnsupportedFormat = errors.New("config: unsupported policy file format")

// PolicyFile is the operator-supplied gate policy and admission thresholds.
// Omitted keys keep their defaults.
type PolicyFile struct {
	Policy    gate.PolicyConstants `json:"policy" yaml:"policy" toml:"policy"`
	Admission admission.Config     `json:"admission" yaml:"admission" toml:"admission"`
}

// DefaultPolicyFile returns the built-in policy and thresholds.
func DefaultPolicyFile() PolicyFile {
	return PolicyFile{
		Policy:    gate.DefaultPolicy(),
		Admission: admission.DefaultConfig(),
	}
}

// Validate checks both sections.
func (p PolicyFile) Validate() error {
	if err := p.Policy.Validate(); err != nil {
		return err
	}
	return p.Admission.Validate()
}

// LoadPolicyFile reads a .toml, .yaml or .yml policy file. Unknown keys are
// rejected.
func LoadPolicyFile(path string) (PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("policy load failed (%s): %w", path, err)
	}
	pf := DefaultPolicyFile()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = decodeTOML(data, &pf)
	case ".yaml", ".yml":
		err = decodeYAML(data, &pf)
	default:
		return PolicyFile{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return PolicyFile{}, fmt.Errorf("policy parse failed (%s): %w", path, err)
	}
	if err := pf.Validate(); err != nil {
		return PolicyFile{}, fmt.Errorf("policy invalid (%s): %w", path, err)
	}
	return pf, nil
}

func decodeTOML(data []byte, out *PolicyFile) error {
	meta, err := toml.Decode(string(data), out)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, out *PolicyFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
