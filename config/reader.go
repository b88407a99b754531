package config

import (
	"bytes"
	"io"
	"slices"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/blockpart/logging"
)

// sections are the top level keys partitioning reads.
var sections = []string{"model_params", "pipeline_params"}

// Read reads the config file at path. Environment variables in the file are expanded. Each
// override has the form section.key=value, where value is YAML, and is applied over the file.
func Read(path string, logger logging.Logger, overrides ...string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromReader(path, bytes.NewReader(buf), logger, overrides...)
}

// FromReader reads a config from r. originalPath names the config.
func FromReader(originalPath string, r io.Reader, logger logging.Logger, overrides ...string) (*Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	for _, o := range overrides {
		if err := applyOverride(raw, o); err != nil {
			return nil, err
		}
	}

	cfg := &Config{Path: originalPath, Name: NameFromPath(originalPath), Params: DefaultParams()}
	var unused []string
	for key := range raw {
		if !slices.Contains(sections, key) {
			unused = append(unused, key)
		}
	}
	for _, section := range sections {
		values, ok := raw[section]
		if !ok || values == nil {
			continue
		}
		var target interface{} = &cfg.ModelParams
		if section == "pipeline_params" {
			target = &cfg.PipelineParams
		}
		var md mapstructure.Metadata
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "yaml",
			WeaklyTypedInput: true,
			ZeroFields:       true,
			Metadata:         &md,
			Result:           target,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(values); err != nil {
			return nil, errors.Wrapf(err, "cannot decode %s of %q", section, originalPath)
		}
		for _, key := range md.Unused {
			unused = append(unused, section+"."+key)
		}
	}
	if len(unused) > 0 {
		slices.Sort(unused)
		logger.Debugw("ignoring config keys", "config", cfg.Name, "keys", unused)
	}
	return cfg, nil
}

func applyOverride(raw map[string]interface{}, override string) error {
	key, value, ok := strings.Cut(override, "=")
	if !ok {
		return errors.Errorf("override %q is not of the form section.key=value", override)
	}
	section, field, ok := strings.Cut(key, ".")
	if !ok || !slices.Contains(sections, section) || field == "" {
		return errors.Errorf("override %q must name a key of %s", override, strings.Join(sections, " or "))
	}
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return errors.Wrapf(err, "cannot parse override %q", override)
	}
	values, _ := raw[section].(map[string]interface{})
	if values == nil {
		values = map[string]interface{}{}
		raw[section] = values
	}
	values[field] = parsed
	return nil
}
