package e2e

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ptgott/one-calendar/userconfig"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it. Also using
// YAML/JSON-compatible types only here.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Backend      string
	StorageDir   string
	RedisAddress string
	FeedName     string
}

// createUserConfig renders the config template and runs it through the same
// parsing and validation as the application.
func createUserConfig(opts appConfigOptions) (userconfig.Meta, error) {
	configTemplate := `---
feed:
    name: {{ .FeedName }}
    url: https://example.org/calendar.ics
    description: Integration test feed
    timezone: UTC
    prefix: [e2e, {{ .FeedName }}]
    refreshInterval: 1h
server:
    listen: 127.0.0.1:0
storage:
    backend: {{ .Backend }}
{{- if .StorageDir }}
    storageDir: {{ .StorageDir }}
{{- end }}
{{- if .RedisAddress }}
    redisAddress: {{ .RedisAddress }}
{{- end }}
    cleanupInterval: "1m"
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	m, err := userconfig.Parse(&config)
	if err != nil {
		return userconfig.Meta{}, err
	}

	return m.CheckAndSetDefaults()

}
