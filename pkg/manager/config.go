package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// Target kinds as they appear in the configuration file
const (
	TargetObjectStore = "oss"
	TargetFilesystem  = "local"
)

// Target selects where a renewed certificate goes. The set of variants is
// closed: only types in this package implement it.
type Target interface {
	// Kind returns the configuration discriminator of the variant
	Kind() string
	// Components asks the factory for the collaborators of this variant
	Components(ctx context.Context, f ComponentFactory, entry *DomainConfig) (*Components, error)
	isTarget()
}

// ComponentFactory builds the per-entry collaborators for each target
// variant. Adding a variant means adding a method here.
type ComponentFactory interface {
	ObjectStoreComponents(ctx context.Context, entry *DomainConfig, target *ObjectStoreTarget) (*Components, error)
	FilesystemComponents(ctx context.Context, entry *DomainConfig, target *FilesystemTarget) (*Components, error)
}

// Components are the target specific collaborators of one entry
type Components struct {
	Provisioner ChallengeProvisioner
	Deployer    Deployer
	Archiver    Archiver
}

// ObjectStoreTarget serves challenges from an Aliyun OSS bucket and binds
// certificates to Aliyun CDN domains.
type ObjectStoreTarget struct {
	Region          string `yaml:"region" json:"region"`
	AccessKeyID     string `yaml:"accessKeyId" json:"accessKeyId"`
	AccessKeySecret string `yaml:"accessKeySecret" json:"accessKeySecret"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Kind implements Target.
func (t *ObjectStoreTarget) Kind() string { return TargetObjectStore }

// Components implements Target.
func (t *ObjectStoreTarget) Components(ctx context.Context, f ComponentFactory, entry *DomainConfig) (*Components, error) {
	return f.ObjectStoreComponents(ctx, entry, t)
}

func (t *ObjectStoreTarget) isTarget() {}

// EndpointURL returns the configured endpoint or the public OSS endpoint of
// the region.
func (t *ObjectStoreTarget) EndpointURL() string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	return fmt.Sprintf("https://%s.aliyuncs.com", t.Region)
}

// FilesystemTarget serves challenges from a local web root and writes
// certificates next to a local reverse proxy.
type FilesystemTarget struct {
	WebRoot       string   `yaml:"webRoot" json:"webRoot"`
	CertPath      string   `yaml:"certPath" json:"certPath"`
	ReloadCommand []string `yaml:"reloadCommand,omitempty" json:"reloadCommand,omitempty"`
}

// Kind implements Target.
func (t *FilesystemTarget) Kind() string { return TargetFilesystem }

// Components implements Target.
func (t *FilesystemTarget) Components(ctx context.Context, f ComponentFactory, entry *DomainConfig) (*Components, error) {
	return f.FilesystemComponents(ctx, entry, t)
}

func (t *FilesystemTarget) isTarget() {}

// DomainConfig is one configured certificate
type DomainConfig struct {
	Domains             []string
	CommonName          string
	ExpireTimeThreshold int
	Target              Target
}

// rawEntry mirrors one element of the configuration file
type rawEntry struct {
	Domains             []string           `yaml:"domains" json:"domains"`
	CommonName          string             `yaml:"commonName" json:"commonName"`
	ExpireTimeThreshold int                `yaml:"expireTimeThreshold" json:"expireTimeThreshold"`
	Target              string             `yaml:"target" json:"target"`
	UseOSS              *bool              `yaml:"useOSS" json:"useOSS"`
	OSS                 *ObjectStoreTarget `yaml:"oss" json:"oss"`
	Local               *FilesystemTarget  `yaml:"local" json:"local"`
}

// LoadConfig reads and validates the domain configuration file at path.
// Every failure is a CONFIG error.
func LoadConfig(path string) ([]*DomainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "load config", "cannot read configuration file").
			WithResource(path).
			AddSuggestion("Run with -print-config-template to create one")
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes and validates configuration data. source names the
// data in error messages.
func ParseConfig(data []byte, source string) ([]*DomainConfig, error) {
	instance, err := decodeInstance(data)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "parse config", "configuration is neither valid JSON nor YAML").
			WithResource(source)
	}

	if err := validateConfig(instance); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "validate config", "configuration does not match the schema").
			WithResource(source)
	}

	// The instance already passed the schema, so re-encoding it as JSON
	// gives a single decoding path for both input formats.
	normalized, err := json.Marshal(instance)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "parse config", "cannot normalize configuration").
			WithResource(source)
	}
	var raw []rawEntry
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "parse config", "cannot decode configuration entries").
			WithResource(source)
	}

	entries := make([]*DomainConfig, 0, len(raw))
	for i := range raw {
		entry, err := raw[i].resolve()
		if err != nil {
			return nil, common.WrapError(err, common.ErrorTypeConfig, "validate config", fmt.Sprintf("entry %d is incomplete", i)).
				WithResource(source)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// resolve applies defaults and settles the target union
func (r *rawEntry) resolve() (*DomainConfig, error) {
	entry := &DomainConfig{
		Domains:             r.Domains,
		CommonName:          r.CommonName,
		ExpireTimeThreshold: r.ExpireTimeThreshold,
	}
	if entry.CommonName == "" {
		entry.CommonName = r.Domains[0]
	}
	if entry.ExpireTimeThreshold <= 0 {
		entry.ExpireTimeThreshold = DefaultExpireTimeThreshold
	}

	kind := r.Target
	if r.UseOSS != nil {
		legacy := TargetFilesystem
		if *r.UseOSS {
			legacy = TargetObjectStore
		}
		if kind != "" && kind != legacy {
			return nil, fmt.Errorf("target %q contradicts useOSS=%t", kind, *r.UseOSS)
		}
		kind = legacy
	}

	switch kind {
	case TargetObjectStore:
		if r.OSS == nil {
			return nil, fmt.Errorf("target %q requires an 'oss' section", kind)
		}
		if r.Local != nil {
			return nil, fmt.Errorf("target %q does not take a 'local' section", kind)
		}
		entry.Target = r.OSS
	case TargetFilesystem:
		if r.Local == nil {
			return nil, fmt.Errorf("target %q requires a 'local' section", kind)
		}
		if r.OSS != nil {
			return nil, fmt.Errorf("target %q does not take an 'oss' section", kind)
		}
		entry.Target = r.Local
	case "":
		return nil, fmt.Errorf("no deployment target selected, set 'target' to %q or %q", TargetObjectStore, TargetFilesystem)
	default:
		return nil, fmt.Errorf("unknown target %q", kind)
	}
	return entry, nil
}

// decodeInstance turns JSON or YAML into the generic form the schema
// validator works on
func decodeInstance(data []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		var instance interface{}
		if err := json.Unmarshal(trimmed, &instance); err == nil {
			return instance, nil
		}
	}

	var yamlObj interface{}
	if err := yaml.Unmarshal(data, &yamlObj); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	jsonData, err := json.Marshal(yamlObj)
	if err != nil {
		return nil, fmt.Errorf("error converting YAML to JSON: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(jsonData, &instance); err != nil {
		return nil, fmt.Errorf("error parsing JSON for validation: %w", err)
	}
	return instance, nil
}

// validateConfig validates the configuration against the JSON schema.
func validateConfig(instance interface{}) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(ConfigSchema))
	if err != nil {
		return fmt.Errorf("schema compilation error: %w", err)
	}

	result := schema.Validate(instance)
	if !result.IsValid() {
		return FormatValidationError(result)
	}
	return nil
}

// GenerateDefaultConfig writes a config template to the provided writer.
func GenerateDefaultConfig(writer io.Writer) error {
	defaultContent := `[
  {
    "domains": ["cdn.example.com", "static.example.com"],
    "commonName": "cdn.example.com",
    "expireTimeThreshold": 15,
    "target": "oss",
    "oss": {
      "region": "oss-cn-hangzhou",
      "accessKeyId": "YOUR-ACCESS-KEY-ID",
      "accessKeySecret": "YOUR-ACCESS-KEY-SECRET",
      "bucket": "your-bucket"
    }
  },
  {
    "domains": ["www.example.com"],
    "target": "local",
    "local": {
      "webRoot": "/var/www/html",
      "certPath": "/etc/nginx/ssl",
      "reloadCommand": ["systemctl", "restart", "nginx"]
    }
  }
]
`
	if _, err := writer.Write([]byte(defaultContent)); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
