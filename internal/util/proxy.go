// Package util holds small transport helpers shared by the providers.
package util

import (
	"net/http"
	"net/url"
)

// NewProxyFunc routes provider traffic through explicit proxies. With no
// proxy configured it falls back to the environment (HTTP_PROXY, NO_PROXY).
func NewProxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
