package cfg

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

const (
	DefaultNVOrigin     = "http://localhost:3000"
	DefaultAllowedHosts = "localhost,127.0.0.1"
)

// Security holds the request boundary settings. These are read unprefixed
// so existing deployments can keep their env files.
type Security struct {
	NVOrigin     string   `env:"NV_ORIGIN" env-default:"http://localhost:3000" env-description:"primary allowed CORS origin"`
	AllowedHosts []string `env:"ALLOWED_HOSTS" env-default:"localhost,127.0.0.1" env-separator:"," env-description:"comma separated Host header allowlist"`
}

// LoadSecurity reads the security settings from the environment. When
// envFile names an existing file it is loaded first; variables already set
// in the real environment are not overwritten by it.
func LoadSecurity(envFile string) (Security, error) {
	var sec Security

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return sec, xerrors.Wrapf(err, "load env file %s", envFile)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return sec, xerrors.Wrapf(err, "stat env file %s", envFile)
		}
	}

	if err := cleanenv.ReadEnv(&sec); err != nil {
		return sec, xerrors.Wrap(err, "read security env")
	}
	sec.normalize()
	return sec, nil
}

// SetAllowedHosts replaces the allowlist from a comma separated string.
// A blank list means the defaults.
func (s *Security) SetAllowedHosts(raw string) {
	s.AllowedHosts = splitList(raw)
	s.normalize()
}

// normalize trims entries and treats a blank origin or host list as unset.
// cleanenv only applies env-default when the variable is missing, so
// NV_ORIGIN= and ALLOWED_HOSTS= end up here empty.
func (s *Security) normalize() {
	s.NVOrigin = strings.TrimSpace(s.NVOrigin)
	if s.NVOrigin == "" {
		s.NVOrigin = DefaultNVOrigin
	}
	var hosts []string
	for _, h := range s.AllowedHosts {
		hosts = append(hosts, splitList(h)...)
	}
	if len(hosts) == 0 {
		hosts = splitList(DefaultAllowedHosts)
	}
	s.AllowedHosts = hosts
}

// Validate reports every problem with the security settings.
func (s Security) Validate() error {
	var errs []error
	if s.NVOrigin != "" {
		if u, err := url.Parse(s.NVOrigin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("NV_ORIGIN must be an origin like https://example.com (got %q)", s.NVOrigin))
		}
	}
	if len(s.AllowedHosts) == 0 {
		errs = append(errs, fmt.Errorf("ALLOWED_HOSTS must list at least one host (use * to allow any)"))
	}
	for _, h := range s.AllowedHosts {
		if strings.ContainsAny(h, "/ ") {
			errs = append(errs, fmt.Errorf("ALLOWED_HOSTS entry %q is not a host name", h))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// splitList splits on commas, trims each entry and drops empties.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
