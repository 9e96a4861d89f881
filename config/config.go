package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/promptparty/promptparty/imagegen"
)

// UpstreamAddr names one generative-image backend.
type UpstreamAddr struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Server holds all configuration for the party-game server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Local mode replaces the upstream pool with a single backend on
	// 127.0.0.1.
	Local     bool `yaml:"local"`
	LocalPort int  `yaml:"local_port"`

	// Upstream image backends
	Upstreams []UpstreamAddr  `yaml:"upstreams"`
	Models    imagegen.Models `yaml:"models"`

	// Content directories
	ScriptsDir     string `yaml:"scripts_dir"`
	AssetsDir      string `yaml:"assets_dir"`
	PlaceholderDir string `yaml:"placeholder_dir"`
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress: "0.0.0.0",
		Port:        8080,
		LocalPort:   7860,
		Models: imagegen.Models{
			TextToImage:        "v1-5-pruned-emaonly.safetensors [6ce0161689]",
			DepthToImage:       "512-depth-ema.ckpt [d0522d12]",
			ControlnetScribble: "control_v11p_sd15_scribble [d4ba51ff]",
		},
		ScriptsDir:     "scripts",
		AssetsDir:      "assets",
		PlaceholderDir: "placeholders",
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// UpstreamPool resolves the effective backend list: the single local
// backend in local mode, the configured pool otherwise.
func (s Server) UpstreamPool() []UpstreamAddr {
	if s.Local {
		return []UpstreamAddr{{Host: "127.0.0.1", Port: s.LocalPort}}
	}
	return s.Upstreams
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}
