package registry

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ResolveEndpoints reads a YAML registry file and returns the destination for
// every named log endpoint. Destinations are zap sink paths.
// Expected format:
// endpoints:
//   endpoint-name: stdout | stderr | /path/to/file.log
func ResolveEndpoints(registryPath string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(registryPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	m := v.GetStringMapString("endpoints")
	out := make(map[string]string, len(m))
	for name, dest := range m {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			return nil, fmt.Errorf("endpoint %q has no destination", name)
		}
		out[name] = dest
	}
	return out, nil
}
