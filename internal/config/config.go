package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models signline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		PublicURL string `yaml:"public_url"`
		APIKey    string `yaml:"api_key"`
	} `yaml:"server"`
	Signing struct {
		WebURL      string   `yaml:"web_url"`
		TokenSecret string   `yaml:"token_secret"`
		TokenTTL    Duration `yaml:"token_ttl"`
	} `yaml:"signing"`
	Storage struct {
		Driver        string `yaml:"driver"`
		LocalDir      string `yaml:"local_dir"`
		PublicBaseURL string `yaml:"public_base_url"`
		S3            struct {
			Bucket          string `yaml:"bucket"`
			Region          string `yaml:"region"`
			Endpoint        string `yaml:"endpoint"`
			AccessKeyID     string `yaml:"access_key_id"`
			SecretAccessKey string `yaml:"secret_access_key"`
			UsePathStyle    bool   `yaml:"use_path_style"`
		} `yaml:"s3"`
	} `yaml:"storage"`
	Renderer struct {
		URL     string   `yaml:"url"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"renderer"`
	Mail struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		TLS      string `yaml:"tls"`
	} `yaml:"mail"`
	Worker struct {
		Interval       Duration `yaml:"interval"`
		Batch          int      `yaml:"batch"`
		WebhookTimeout Duration `yaml:"webhook_timeout"`
	} `yaml:"worker"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Engine struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"engine"`
}

// Duration reads Go duration strings such as "30s" from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if strings.TrimSpace(c.Signing.WebURL) == "" {
		return fmt.Errorf("config.signing.web_url is required")
	}
	if _, err := url.ParseRequestURI(c.Signing.WebURL); err != nil {
		return fmt.Errorf("config.signing.web_url is invalid: %w", err)
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("config.storage.local_dir is required for the local driver")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config.storage.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config.storage.driver must be 'local' or 's3'")
	}
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" {
			return fmt.Errorf("config.mail.host is required for the smtp driver")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("config.mail.from is required for the smtp driver")
		}
		switch c.Mail.TLS {
		case "", "opportunistic", "mandatory", "none":
		default:
			return fmt.Errorf("config.mail.tls must be opportunistic, mandatory or none")
		}
	default:
		return fmt.Errorf("config.mail.driver must be 'smtp' or 'log'")
	}
	if c.Worker.Batch < 0 {
		return fmt.Errorf("config.worker.batch must not be negative")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("config.engine.max_retries must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "signline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with signline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML for a workspace.
func GenerateDefault(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return fmt.Sprintf(defaultTemplate, filepath.ToSlash(filepath.Join(workspace, ".signline", "objects")))
}

// Default returns the default Config for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspace))).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  public_url: http://127.0.0.1:8080
  api_key: ""

signing:
  web_url: http://localhost:5173
  token_secret: ""
  token_ttl: "0s"

storage:
  driver: local
  local_dir: %s
  public_base_url: http://127.0.0.1:8080/storage
  s3:
    bucket: ""
    region: us-east-1
    endpoint: ""
    use_path_style: false

renderer:
  url: http://127.0.0.1:3000
  timeout: 60s

mail:
  driver: log
  host: ""
  port: 587
  from: "Signline <no-reply@localhost>"
  tls: opportunistic

worker:
  interval: 2s
  batch: 100
  webhook_timeout: 5s

log:
  level: info
  format: ""

engine:
  max_retries: 5
`
