package config

import "net/http"

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "none"
	CookieSameSiteLax    CookieSameSite = "lax"
	CookieSameSiteStrict CookieSameSite = "strict"
)

// CookieTemplate describes a cookie minus its value and max age, which are
// decided per response. SameSite defaults to lax: the browser arrives at
// the callback through a top-level redirect from the provider, and strict
// cookies are not sent on that navigation.
type CookieTemplate struct {
	Name     string         `yaml:"name"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure" default:"true"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
	SameSite CookieSameSite `yaml:"sameSite" default:"lax"`
}

func (ct *CookieTemplate) ToCookie(value string, maxAge int) *http.Cookie {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}

// Expired returns a cookie that instructs the browser to drop the one it
// currently holds under this template's name.
func (ct *CookieTemplate) Expired() *http.Cookie {
	return ct.ToCookie("", -1)
}
