// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	OAuth   OAuth   `yaml:"oauth"`
	Gateway Gateway `yaml:"gateway"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// OAuth holds the registration data of this gateway at the identity
// provider. The endpoint defaults point at OpenStreetMap, so a fresh
// deployment only needs the client credentials.
type OAuth struct {
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`

	AuthorizationEndpoint string `yaml:"authorizationEndpoint" default:"https://www.openstreetmap.org/oauth2/authorize"`
	TokenEndpoint         string `yaml:"tokenEndpoint" default:"https://www.openstreetmap.org/oauth2/token"`
	UserInfoEndpoint      string `yaml:"userInfoEndpoint" default:"https://api.openstreetmap.org/api/0.6/user/details.json"`

	// Scopes requested from the provider. read_prefs is the OSM permission
	// needed to read the user details document.
	Scopes []string `yaml:"scopes" default:"[\"read_prefs\"]"`

	// SchemeName is an internal identifier for this provider, in case
	// several providers are configured side by side one day.
	SchemeName string `yaml:"schemeName" default:"OpenStreetMap"`
}

type Gateway struct {
	// PublicURL is the externally visible base URL of this gateway; the
	// provider redirects the browser back to PublicURL + CallbackPath.
	PublicURL    string `yaml:"publicURL"`
	CallbackPath string `yaml:"callbackPath" default:"/callback"`

	AllowedReturnURLs []string `yaml:"allowedReturnURLs"`

	SessionDuration    time.Duration `yaml:"sessionDuration" default:"12h"`
	LoginTimeout       time.Duration `yaml:"loginTimeout" default:"10m"`
	BackchannelTimeout time.Duration `yaml:"backchannelTimeout" default:"10s"`

	// SessionSecret signs both the session and the pending-auth-state
	// cookies. Must resolve to at least 32 bytes.
	SessionSecret commoncfg.SourceRef `yaml:"sessionSecret"`

	SessionCookie CookieTemplate `yaml:"sessionCookie"`
	StateCookie   CookieTemplate `yaml:"stateCookie"`
}
