package midisvc

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	DefaultPreferred = []string{"Launchkey", "Novation", "Keystation", "Digital Piano"}
	DefaultExcluded  = []string{"Midi Through", "Through Port", "Dummy"}
)

// PortInfo is a port currently offered by the driver.
type PortInfo struct {
	Number   int    `json:"number" yaml:"number"`
	Name     string `json:"name" yaml:"name"`
	Excluded bool   `json:"excluded" yaml:"excluded"`
}

type selector struct {
	port      string
	preferred []string
	excluded  []string
}

func (s selector) isExcluded(name string) bool {
	for _, pat := range s.excluded {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

// pick chooses the port to connect to. An explicit port, by number or by
// case-insensitive name fragment, wins and ignores exclusions. Otherwise
// the first preferred pattern that matches is used, then the only
// remaining port if there is exactly one.
func (s selector) pick(ports []PortInfo) (PortInfo, error) {
	if s.port != "" {
		if n, err := strconv.Atoi(s.port); err == nil {
			for _, p := range ports {
				if p.Number == n {
					return p, nil
				}
			}
			return PortInfo{}, fmt.Errorf("%w: number %d", ErrPortNotFound, n)
		}
		for _, p := range ports {
			if p.Name == s.port {
				return p, nil
			}
		}
		for _, p := range ports {
			if containsCI(p.Name, s.port) {
				return p, nil
			}
		}
		return PortInfo{}, fmt.Errorf("%w: %q", ErrPortNotFound, s.port)
	}

	var candidates []PortInfo
	for _, p := range ports {
		if !p.Excluded {
			candidates = append(candidates, p)
		}
	}
	for _, pat := range s.preferred {
		for _, p := range candidates {
			if containsCI(p.Name, pat) {
				return p, nil
			}
		}
	}
	switch len(candidates) {
	case 0:
		return PortInfo{}, fmt.Errorf("%w: no usable input", ErrPortNotFound)
	case 1:
		return candidates[0], nil
	}
	names := make([]string, len(candidates))
	for i, p := range candidates {
		names[i] = p.Name
	}
	return PortInfo{}, fmt.Errorf("%w: several inputs and none preferred (%s), use --port", ErrPortNotFound, strings.Join(names, ", "))
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
