package userconfig

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ptgott/one-calendar/ical"
	"github.com/ptgott/one-calendar/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	yaml "gopkg.in/yaml.v2"
)

// Calendar clients poll far less often than this in practice. Anything
// shorter is almost certainly a typo for a longer unit.
const minRefreshInterval = time.Minute

const defaultListenAddress = ":8080"

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Storage storage.KVConfig `yaml:"storage"`
	Feed    Feed             `yaml:"feed"`
	Server  Server           `yaml:"server"`
}

// Feed describes the published calendar and where its events are kept.
type Feed struct {
	Name        string
	URL         string
	Description string
	// IANA zone name advertised to calendar clients
	Timezone string
	// Key segments that hold this feed's events. Defaults to
	// ["feeds", Name].
	Prefix          []string
	RefreshInterval time.Duration
	ProductID       string
	// Collation used to order events, e.g., "de" or "sv"
	Language language.Tag
}

// Server contains settings for serving the feed over HTTP
type Server struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (f *Feed) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v struct {
		Name            string   `yaml:"name"`
		URL             string   `yaml:"url"`
		Description     string   `yaml:"description"`
		Timezone        string   `yaml:"timezone"`
		Prefix          []string `yaml:"prefix"`
		RefreshInterval string   `yaml:"refreshInterval"`
		ProductID       string   `yaml:"productID"`
		Language        string   `yaml:"language"`
	}
	err := unmarshal(&v)
	if err != nil {
		return fmt.Errorf("can't parse the feed config: %v", err)
	}

	f.Name = v.Name
	f.URL = v.URL
	f.Description = v.Description
	f.Timezone = v.Timezone
	f.Prefix = v.Prefix
	f.ProductID = v.ProductID

	if v.RefreshInterval != "" {
		d, err := time.ParseDuration(v.RefreshInterval)
		if err != nil {
			return fmt.Errorf(
				"can't parse the user-provided refresh interval as a duration: %v",
				err,
			)
		}
		f.RefreshInterval = d
	}

	f.Language = language.Und
	if v.Language != "" {
		tag, err := language.Parse(v.Language)
		if err != nil {
			return fmt.Errorf("can't parse the feed language %q: %v", v.Language, err)
		}
		f.Language = tag
	}

	return nil
}

// CheckAndSetDefaults validates f and either returns a copy of f with default
// settings applied or returns an error due to an invalid configuration
func (f *Feed) CheckAndSetDefaults() (Feed, error) {
	out := *f
	if out.Name == "" {
		return Feed{}, errors.New("the feed needs a name")
	}

	if out.URL != "" {
		u, err := url.Parse(out.URL)
		if err != nil {
			return Feed{}, fmt.Errorf("can't parse the feed URL: %v", err)
		}
		if !u.IsAbs() {
			return Feed{}, fmt.Errorf("the feed URL %q must be absolute", out.URL)
		}
	}

	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return Feed{}, fmt.Errorf("unknown time zone %q: %v", out.Timezone, err)
		}
	}

	if out.RefreshInterval != 0 && out.RefreshInterval < minRefreshInterval {
		return Feed{}, fmt.Errorf("refresh interval must be at least %v", minRefreshInterval)
	}

	if len(out.Prefix) == 0 {
		out.Prefix = []string{"feeds", out.Name}
	} else {
		out.Prefix = append([]string(nil), out.Prefix...)
	}
	for _, s := range out.Prefix {
		if s == "" {
			return Feed{}, errors.New("feed prefix segments can't be empty")
		}
	}

	if out.ProductID == "" {
		out.ProductID = ical.DefaultProductID
	}

	return out, nil
}

// Info is the feed metadata in the form the renderer expects.
func (f Feed) Info() ical.Info {
	return ical.Info{
		Name:            f.Name,
		URL:             f.URL,
		Description:     f.Description,
		Timezone:        f.Timezone,
		ProductID:       f.ProductID,
		RefreshInterval: f.RefreshInterval,
	}
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Server) CheckAndSetDefaults() (Server, error) {
	out := *s
	if out.Listen == "" {
		out.Listen = defaultListenAddress
	}
	for _, o := range out.AllowedOrigins {
		if o == "" {
			return Server{}, errors.New("allowed origins can't be empty strings")
		}
	}
	return out, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	s, err := m.Storage.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Storage = s

	f, err := m.Feed.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Feed = f

	sv, err := m.Server.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Server = sv

	return c, nil

}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if m.Storage == (storage.KVConfig{}) {
		return &Meta{}, errors.New("must include a \"storage\" section")
	}

	if m.Feed.Name == "" {
		return &Meta{}, errors.New("must include a \"feed\" section with a name")
	}

	if m.Storage.Backend == storage.BackendNoOp {
		log.Debug().Msg(
			"disabling database operations",
		)
	}

	return &m, nil

}
