// Package settings holds the user preferences of the issue tools
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/config"
	"github.com/petr-muller/ugs/internal/issuewatch/alerts"
	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/monitor"
)

const (
	settingsFileName = "issue-settings.yaml"
)

// Server is an issue service the user watches
type Server struct {
	APIURL   string `yaml:"apiUrl"`
	UserName string `yaml:"userName"`
}

// Perforce holds the connection used to list changes
type Perforce struct {
	ServerAndPort string `yaml:"serverAndPort,omitempty"`
	UserName      string `yaml:"userName,omitempty"`
	ClientName    string `yaml:"clientName,omitempty"`
}

// Settings are persisted in the user's config directory
type Settings struct {
	// Alert thresholds in minutes, negative disables the alert
	NotifyUnassignedMinutes     int `yaml:"notifyUnassignedMinutes"`
	NotifyUnacknowledgedMinutes int `yaml:"notifyUnacknowledgedMinutes"`
	NotifyUnresolvedMinutes     int `yaml:"notifyUnresolvedMinutes"`
	// NotifyProjects limits timer alerts to these projects, empty means all projects
	NotifyProjects []string `yaml:"notifyProjects,omitempty"`

	MaxResolvedIssues int           `yaml:"maxResolvedIssues"`
	PollInterval      time.Duration `yaml:"pollInterval"`

	Servers  []Server `yaml:"servers,omitempty"`
	Perforce Perforce `yaml:"perforce,omitempty"`
}

// Default returns settings with every timer alert disabled
func Default() *Settings {
	return &Settings{
		NotifyUnassignedMinutes:     -1,
		NotifyUnacknowledgedMinutes: -1,
		NotifyUnresolvedMinutes:     -1,
		MaxResolvedIssues:           monitor.DefaultMaxResolved,
		PollInterval:                monitor.DefaultPollInterval,
	}
}

// DefaultPath is the settings file in the user's config directory
func DefaultPath() string {
	return filepath.Join(config.MustConfigDir(), settingsFileName)
}

// Load reads settings from path. Keys missing from the file keep their defaults, and a
// missing file yields the defaults.
func Load(path string) (*Settings, error) {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	return settings, nil
}

// Save writes settings to path, creating its directory if needed
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the servers and limits
func (s *Settings) Validate() error {
	for _, server := range s.Servers {
		if err := api.ValidateURL(server.APIURL); err != nil {
			return err
		}
		if server.UserName == "" {
			return fmt.Errorf("server %s has no user name", server.APIURL)
		}
	}
	if s.MaxResolvedIssues < 0 {
		return fmt.Errorf("maxResolvedIssues must not be negative, got %d", s.MaxResolvedIssues)
	}
	if s.PollInterval < 0 {
		return fmt.Errorf("pollInterval must not be negative, got %s", s.PollInterval)
	}
	return nil
}

// AddServer records a server, replacing the user name of an already known one
func (s *Settings) AddServer(server Server) {
	for i := range s.Servers {
		if s.Servers[i].APIURL == server.APIURL {
			s.Servers[i].UserName = server.UserName
			return
		}
	}
	s.Servers = append(s.Servers, server)
}

// AlertPolicy converts the thresholds into alerting rules
func (s *Settings) AlertPolicy() alerts.Policy {
	return alerts.Policy{
		Unassigned:     minutes(s.NotifyUnassignedMinutes),
		Unacknowledged: minutes(s.NotifyUnacknowledgedMinutes),
		Unresolved:     minutes(s.NotifyUnresolvedMinutes),
		Projects:       sets.New[string](s.NotifyProjects...),
	}
}

// MonitorOptions returns the monitor options for server
func (s *Settings) MonitorOptions(server Server) monitor.Options {
	return monitor.Options{
		APIURL:       server.APIURL,
		UserName:     server.UserName,
		PollInterval: s.PollInterval,
		MaxResolved:  s.MaxResolvedIssues,
	}
}

func minutes(value int) time.Duration {
	if value < 0 {
		return alerts.Disabled
	}
	return time.Duration(value) * time.Minute
}
