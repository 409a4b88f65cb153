package main

import (
	"fmt"
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

type Strategy string

const (
	// ScanStrategy notifies both the git.-prefixed and the plain URL,
	// then scans projects for a matching Gitorious browser.
	ScanStrategy Strategy = "scan"
	// RewriteStrategy rewrites https:// to git:// and notifies once,
	// passing the pushed ref along.
	RewriteStrategy Strategy = "rewrite"
)

type Endpoint struct {
	Source   string   `json:"source"`
	KeyPath  string   `json:"keyPath,omitempty"`
	Strategy Strategy `json:"strategy,omitempty"`
	// Signed endpoints require an X-Hub-Signature HMAC of the body,
	// made with the endpoint key.
	Signed bool `json:"signed,omitempty"`
}

type NotifierKind string

const (
	FluxNotifier      NotifierKind = "flux"
	GitStatusNotifier NotifierKind = "git-status"
)

type NotifierConfig struct {
	Kind NotifierKind `json:"kind,omitempty"`
	API  string       `json:"api,omitempty"`
}

type BrowserConfig struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type SCMConfig struct {
	Kind    string         `json:"kind"`
	Remote  string         `json:"remote,omitempty"`
	Branch  string         `json:"branch,omitempty"`
	Browser *BrowserConfig `json:"browser,omitempty"`
	SCMs    []SCMConfig    `json:"scms,omitempty"`
}

type PollConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

type ProjectConfig struct {
	Name       string      `json:"name"`
	Disabled   bool        `json:"disabled,omitempty"`
	Restricted bool        `json:"restricted,omitempty"`
	SCM        SCMConfig   `json:"scm"`
	Poll       *PollConfig `json:"poll,omitempty"`
}

type Config struct {
	GitoriousRecvVersion int             `json:"gitoriousRecvVersion"`
	Notifier             NotifierConfig  `json:"notifier"`
	MultipleSCMs         bool            `json:"multipleSCMs,omitempty"`
	Endpoints            []Endpoint      `json:"endpoints"`
	Projects             []ProjectConfig `json:"projects,omitempty"`
}

func ConfigFromBytes(configBytes []byte) (Config, error) {
	var config Config

	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	if config.GitoriousRecvVersion != 1 {
		return config, fmt.Errorf("not a valid config file (field gitoriousRecvVersion != 1)")
	}
	if err := config.validate(); err != nil {
		return config, err
	}
	config.setDefaults()
	return config, nil
}

func ConfigFromFile(path string) (Config, error) {
	configBytes, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ConfigFromBytes(configBytes)
}

func (c *Config) setDefaults() {
	if c.Notifier.Kind == "" {
		c.Notifier.Kind = FluxNotifier
	}
	if c.Notifier.API == "" && c.Notifier.Kind == FluxNotifier {
		c.Notifier.API = defaultApiBase
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Strategy == "" {
			c.Endpoints[i].Strategy = ScanStrategy
		}
	}
}

func (c *Config) validate() error {
	switch c.Notifier.Kind {
	case "", FluxNotifier:
	case GitStatusNotifier:
		if c.Notifier.API == "" {
			return fmt.Errorf("notifier %q requires an api base URL", GitStatusNotifier)
		}
	default:
		return fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind)
	}

	keyless := 0
	for i, ep := range c.Endpoints {
		if ep.Source != Gitorious {
			return fmt.Errorf("endpoint %d: unknown source %q", i, ep.Source)
		}
		if ep.Strategy != "" {
			if _, ok := Strategies[ep.Strategy]; !ok {
				return fmt.Errorf("endpoint %d: unknown strategy %q", i, ep.Strategy)
			}
		}
		if ep.KeyPath == "" {
			if ep.Signed {
				return fmt.Errorf("endpoint %d: signed endpoints need a keyPath", i)
			}
			keyless++
		}
	}
	if keyless > 1 {
		return fmt.Errorf("at most one endpoint may omit keyPath, found %d", keyless)
	}

	seen := map[string]bool{}
	for _, p := range c.Projects {
		if p.Name == "" {
			return errors.New("project without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project %q", p.Name)
		}
		seen[p.Name] = true
		if p.SCM.Kind == "" {
			return fmt.Errorf("project %q: scm.kind is required", p.Name)
		}
	}
	return nil
}
