package flagutil

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/settings"
)

// ServerOptions selects the issue service and user a command works with
type ServerOptions struct {
	APIURL       string
	UserName     string
	PollInterval time.Duration
	SettingsPath string
}

// AddFlags injects server options into the given FlagSet
func (o *ServerOptions) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.APIURL, "api-url", "", "URL of the issue service (defaults to the first server in the settings file)")
	fs.StringVar(&o.UserName, "user", "", "User name to watch issues for (defaults to the settings file, then $USER)")
	fs.DurationVar(&o.PollInterval, "poll-interval", 0, "How often to poll the issue service (overrides the settings file)")
	fs.StringVar(&o.SettingsPath, "settings", settings.DefaultPath(), "Path to the settings file")
}

// AddPFlags injects server options into the given pflag.FlagSet
func (o *ServerOptions) AddPFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.APIURL, "api-url", "", "URL of the issue service (defaults to the first server in the settings file)")
	fs.StringVar(&o.UserName, "user", "", "User name to watch issues for (defaults to the settings file, then $USER)")
	fs.DurationVar(&o.PollInterval, "poll-interval", 0, "How often to poll the issue service (overrides the settings file)")
	fs.StringVar(&o.SettingsPath, "settings", settings.DefaultPath(), "Path to the settings file")
}

// Validate checks values given on the command line
func (o *ServerOptions) Validate() error {
	if o.APIURL != "" {
		if err := api.ValidateURL(o.APIURL); err != nil {
			return err
		}
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("--poll-interval must not be negative, got %s", o.PollInterval)
	}
	return nil
}

// Resolve fills servers missing from the command line from s. fallbackUser is used when
// neither the flags nor the settings name a user.
func (o *ServerOptions) Resolve(s *settings.Settings, fallbackUser string) (settings.Server, error) {
	server := settings.Server{APIURL: o.APIURL, UserName: o.UserName}
	if server.APIURL == "" {
		if len(s.Servers) == 0 {
			return server, errors.New("no issue service configured: pass --api-url or add a server to the settings file")
		}
		server.APIURL = s.Servers[0].APIURL
	}
	if server.UserName == "" {
		for _, known := range s.Servers {
			if known.APIURL == server.APIURL {
				server.UserName = known.UserName
				break
			}
		}
	}
	if server.UserName == "" {
		server.UserName = fallbackUser
	}
	if server.UserName == "" {
		return server, errors.New("no user name configured: pass --user")
	}
	if o.PollInterval > 0 {
		s.PollInterval = o.PollInterval
	}
	return server, nil
}
