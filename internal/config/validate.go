package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/klyr/wafcore/internal/rules"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

// Validate checks the config shape. With requireServer set the gateway
// settings must be complete as well.
func (c *Config) Validate(requireServer bool) error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if c.Engine.Rules == "" {
		v.Add("engine.rules is required")
	} else if err := requireFile(c.RulesPath()); err != nil {
		v.Add("engine.rules invalid: %v", err)
	}
	if _, err := rules.ParseRiskLevel(c.Engine.RiskLevel); err != nil {
		v.Add("engine.riskLevel must be low|medium|high|paranoid")
	}
	if c.Engine.VerdictCacheSize < 0 {
		v.Add("engine.verdictCacheSize must be >= 0")
	}
	if c.Engine.Watch.Debounce < 0 {
		v.Add("engine.watch.debounce must be >= 0")
	}
	if c.Engine.Watch.MaxReloadsPerMinute < 0 {
		v.Add("engine.watch.maxReloadsPerMinute must be >= 0")
	}

	for i, entry := range c.Whitelist {
		if entry.Rule == "" {
			v.Add("whitelist[%d].rule is required", i)
		} else if _, err := glob.Compile(entry.Rule); err != nil {
			v.Add("whitelist[%d].rule invalid: %v", i, err)
		}
		if entry.Payload != "" {
			if _, err := glob.Compile(entry.Payload); err != nil {
				v.Add("whitelist[%d].payload invalid: %v", i, err)
			}
		}
	}

	if requireServer {
		c.validateServer(v)
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		v.Add("logging.format must be json|console")
	}
	if c.Logging.VerdictLog != "" {
		if err := ensureWritableDir(filepath.Dir(c.resolvePath(c.Logging.VerdictLog))); err != nil {
			v.Add("logging.verdictLog invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateServer(v *ValidationError) {
	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}
	if c.Server.Upstream == "" {
		v.Add("server.upstream is required")
	} else if err := validateURL(c.Server.Upstream); err != nil {
		v.Add("server.upstream invalid: %v", err)
	}

	switch c.Server.Mode {
	case ModeEnforce, ModeShadow:
	default:
		v.Add("server.mode must be enforce|shadow")
	}
	switch c.Server.FailMode {
	case FailOpen, FailClosed:
	default:
		v.Add("server.failMode must be open|closed")
	}
	if c.Server.MaxBodyBytes <= 0 {
		v.Add("server.maxBodyBytes must be > 0")
	}
	if c.Server.BlockStatusCode < 400 || c.Server.BlockStatusCode > 599 {
		v.Add("server.blockStatusCode must be a 4xx or 5xx code")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		}
		if c.Server.TLS.CertFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
				v.Add("server.tls.certFile invalid: %v", err)
			}
		}
		if c.Server.TLS.KeyFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
				v.Add("server.tls.keyFile invalid: %v", err)
			}
		}
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, "wafcore-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
