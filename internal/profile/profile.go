// Package profile keeps named MySQL connection settings so callers can refer
// to a database by name instead of passing every parameter.
package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EnvPrefix starts every profile variable: MYSQL_CONN_<NAME>_<ATTRIBUTE>
const EnvPrefix = "MYSQL_CONN_"

const defaultPort = 3306

var ErrNotFound = errors.New("connection profile not found")

// Profile is one named set of connection parameters
type Profile struct {
	Name     string `json:"name" mapstructure:"name" yaml:"name" validate:"required"`
	Host     string `json:"host" mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `json:"port" mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	User     string `json:"user" mapstructure:"user" yaml:"user" validate:"required"`
	Password string `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// Masked returns a copy safe to show to callers
func (p Profile) Masked() Profile {
	if p.Password != "" {
		p.Password = "********"
	}
	return p
}

// Store is a concurrency-safe set of profiles keyed by lower-cased name
type Store struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	log      zerolog.Logger
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{
		profiles: make(map[string]Profile),
		log:      log.With().Str("component", "profile").Logger(),
	}
}

// Register adds or replaces a profile
func (s *Store) Register(p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || strings.TrimSpace(p.Host) == "" || p.User == "" {
		return fmt.Errorf("name, host, and user are required")
	}
	if p.Port == 0 {
		p.Port = defaultPort
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d", p.Port)
	}

	s.mu.Lock()
	s.profiles[strings.ToLower(p.Name)] = p
	s.mu.Unlock()

	s.log.Info().Str("name", p.Name).Str("host", p.Host).Int("port", p.Port).Str("user", p.User).Msg("connection profile registered")
	return nil
}

// Get returns the profile registered under name
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// List returns every profile with passwords masked, sorted by name
func (s *Store) List() []Profile {
	s.mu.RLock()
	list := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		list = append(list, p.Masked())
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// LoadFromEnv registers the profiles described by the process environment
func (s *Store) LoadFromEnv() int {
	return s.LoadEnv(os.Environ())
}

// LoadEnv registers the profiles found in environ (KEY=VALUE entries) and
// returns how many were accepted. Incomplete profiles are skipped with a
// warning.
func (s *Store) LoadEnv(environ []string) int {
	attrs := make(map[string]map[string]string)

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}

		name, attr, ok := strings.Cut(strings.TrimPrefix(key, EnvPrefix), "_")
		if !ok || name == "" {
			s.log.Warn().Str("variable", key).Msgf("malformed profile variable, expected %s<NAME>_<ATTRIBUTE>", EnvPrefix)
			continue
		}
		if attrs[name] == nil {
			attrs[name] = make(map[string]string)
		}
		attrs[name][attr] = value
	}

	loaded := 0
	for name, a := range attrs {
		p := Profile{
			Name:     strings.ToLower(name),
			Host:     a["HOST"],
			User:     a["USER"],
			Password: a["PASS"],
			Database: a["DB"],
		}
		if raw := a["PORT"]; raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil {
				s.log.Warn().Str("name", name).Str("port", raw).Msg("skipping profile with non-numeric port")
				continue
			}
			p.Port = port
		}
		if err := s.Register(p); err != nil {
			s.log.Warn().Err(err).Str("name", name).Msg("skipping incomplete profile")
			continue
		}
		loaded++
	}
	return loaded
}
