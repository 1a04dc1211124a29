package routing

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Rule is one exclusion rule as it appears in configuration.
type Rule struct {
	Kind    string `koanf:"kind"`
	Pattern string `koanf:"pattern"`
}

// Config is the on-disk shape of the classifier configuration.
type Config struct {
	Matchers []Rule `koanf:"matchers"`
}

// DefaultRules mirror the exclusions the site shipped with: asset
// extensions, the framework-internal prefix, the API prefix, and the
// static directories served verbatim.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: string(KindStaticAsset), Pattern: `\.[A-Za-z0-9]{1,8}$`},
		{Kind: string(KindInternal), Pattern: `^/_/`},
		{Kind: string(KindAPI), Pattern: `^/api(/|$)`},
		{Kind: string(KindStaticDir), Pattern: `^/(assets|fonts|images)(/|$)`},
	}
}

// Default returns a classifier built from DefaultRules.
func Default() *Classifier {
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		// DefaultRules are compile-time constants; failure is a bug.
		panic(err)
	}
	return c
}

// LoadFile builds a classifier from a YAML rules file.
func LoadFile(path string) (*Classifier, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load matcher config %s: %w", path, err)
	}
	return fromKoanf(k)
}

// LoadBytes builds a classifier from raw YAML, e.g. a config document
// fetched from SSM Parameter Store.
func LoadBytes(b []byte) (*Classifier, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse matcher config: %w", err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Classifier, error) {
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("unmarshal matcher config: %w", err)
	}
	if len(c.Matchers) == 0 {
		return nil, fmt.Errorf("matcher config has no matchers")
	}
	return NewClassifier(c.Matchers)
}
