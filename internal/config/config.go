// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	OAuth    OAuth    `yaml:"oauth"`
	Upstream Upstream `yaml:"upstream"`
	Chat     Chat     `yaml:"chat"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":3000"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// OAuth configures the authorization code flow against the upstream
// identity provider. Endpoints are resolved from DiscoveryURL at startup.
type OAuth struct {
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	RedirectURI  string              `yaml:"redirectURI" default:"http://localhost:3000/auth/callback"`
	Scope        string              `yaml:"scope" default:"restlets,rest_webservices"`
	DiscoveryURL string              `yaml:"discoveryURL"`

	RequestTimeout    time.Duration `yaml:"requestTimeout" default:"30s"`
	DiscoveryTimeout  time.Duration `yaml:"discoveryTimeout" default:"10s"`
	DiscoveryCacheTTL time.Duration `yaml:"discoveryCacheTTL" default:"1h"`
}

// Upstream configures the chat completion API requests are relayed to.
type Upstream struct {
	ChatURL   string `yaml:"chatURL"`
	Model     string `yaml:"model" default:"F3 NS Dev Assist"`
	UserAgent string `yaml:"userAgent" default:"Dn/JS 6.9.0"`

	// ResponseHeaderTimeout bounds the wait for upstream headers only; the
	// body is an open-ended event stream and must not carry a deadline.
	ResponseHeaderTimeout time.Duration `yaml:"responseHeaderTimeout" default:"120s"`
}

type Chat struct {
	SystemPromptPath string `yaml:"systemPromptPath" default:"system-prompt.md"`
	MaxHistoryChars  int    `yaml:"maxHistoryChars" default:"50000"`
}
