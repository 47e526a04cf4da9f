package core

import (
	"os"
	"strings"
)

// proxyVars are copied from their lower-case spelling to upper case.
var proxyVars = []string{"https_proxy", "http_proxy", "all_proxy"}

// ApplyProxyEnv copies each set lower-case proxy variable to its upper-case
// name, which http.ProxyFromEnvironment reads. It returns the names set.
func ApplyProxyEnv() []string {
	var applied []string
	for _, lower := range proxyVars {
		value, ok := os.LookupEnv(lower)
		if !ok {
			continue
		}
		upper := strings.ToUpper(lower)
		if err := os.Setenv(upper, value); err == nil {
			applied = append(applied, upper)
		}
	}
	return applied
}
