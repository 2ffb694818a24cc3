package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaseURLSource names the rule that produced a resolved base URL.
type BaseURLSource string

const (
	SourceDevProxy      BaseURLSource = "dev_proxy"
	SourceRuntimeConfig BaseURLSource = "runtime_config"
	SourceEnvironment   BaseURLSource = "environment"
	SourceExplicit      BaseURLSource = "explicit"
	SourceRelative      BaseURLSource = "relative"
)

// ResolvedBaseURL is the absolute API root every request path is joined to.
type ResolvedBaseURL struct {
	URL    string
	Source BaseURLSource
}

// runtimeConfig is the shape of the file a deployment drops next to the
// client. JSON is valid YAML, so both formats are accepted.
type runtimeConfig struct {
	APIBaseURL    string `yaml:"apiBaseUrl"`
	APIBaseURLAlt string `yaml:"API_BASE_URL"`
}

// ResolveBaseURL picks the API root in this order: dev proxy, runtime
// config file, base URL override, protocol/host/port, then the prefix
// relative to the configured origin. The versioned prefix is appended
// unless the chosen URL already ends with it.
func ResolveBaseURL(api APIConfig) (ResolvedBaseURL, error) {
	prefix := api.Prefix
	if prefix == "" {
		prefix = "/api/v1"
	}

	if api.DevProxy {
		u, err := joinPrefix(api.DevProxyOrigin, prefix)
		return ResolvedBaseURL{URL: u, Source: SourceDevProxy}, err
	}

	if api.RuntimeConfig != "" {
		base, err := readRuntimeConfig(api.RuntimeConfig)
		if err != nil {
			return ResolvedBaseURL{}, err
		}
		if base != "" {
			u, err := joinPrefix(base, prefix)
			return ResolvedBaseURL{URL: u, Source: SourceRuntimeConfig}, err
		}
	}

	if api.BaseURL != "" {
		u, err := joinPrefix(api.BaseURL, prefix)
		return ResolvedBaseURL{URL: u, Source: SourceEnvironment}, err
	}

	if api.Host != "" {
		protocol := strings.TrimSuffix(api.Protocol, ":")
		if protocol == "" {
			protocol = "http"
		}
		host := api.Host
		if api.Port > 0 {
			host = host + ":" + strconv.Itoa(api.Port)
		}
		u, err := joinPrefix(protocol+"://"+host, prefix)
		return ResolvedBaseURL{URL: u, Source: SourceExplicit}, err
	}

	u, err := joinPrefix(api.Origin, prefix)
	return ResolvedBaseURL{URL: u, Source: SourceRelative}, err
}

func readRuntimeConfig(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading runtime config %s: %w", path, err)
	}
	var rc runtimeConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return "", fmt.Errorf("parsing runtime config %s: %w", path, err)
	}
	if rc.APIBaseURL != "" {
		return rc.APIBaseURL, nil
	}
	return rc.APIBaseURLAlt, nil
}

func joinPrefix(base, prefix string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("empty API origin")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid API base URL %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid API base URL %q: missing host", base)
	}
	path := strings.TrimRight(u.Path, "/")
	prefix = "/" + strings.Trim(prefix, "/")
	if !strings.HasSuffix(path, prefix) {
		path += prefix
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
