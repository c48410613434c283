package session

import "net/http"

// GetOrUnsetCookie is either a cookie to set or an instruction to unset one,
// generalizing the teacher's internal/remember-me GetOrUnsetCookie: one
// result type covers both "issue this Set-Cookie" and "clear the existing
// one" without the caller branching on a separate bool everywhere.
type GetOrUnsetCookie struct {
	cookie *http.Cookie
	unset  bool
}

// Empty reports whether this value carries neither a set nor an unset
// instruction.
func (c GetOrUnsetCookie) Empty() bool {
	return !c.unset && c.cookie == nil
}

// Get returns the cookie to apply and whether it is an unset instruction.
func (c GetOrUnsetCookie) Get() (*http.Cookie, bool) {
	return c.cookie, c.unset
}

// Apply writes the cookie (set or unset) to w.
func (c GetOrUnsetCookie) Apply(w http.ResponseWriter) {
	if c.cookie == nil {
		return
	}
	http.SetCookie(w, c.cookie)
}

// RequestUnsetCookie builds a GetOrUnsetCookie that clears name.
func RequestUnsetCookie(name, domain string) GetOrUnsetCookie {
	return GetOrUnsetCookie{
		cookie: &http.Cookie{
			Name: name, Path: "/", Domain: domain, MaxAge: -1,
			Secure: true, HttpOnly: true, SameSite: http.SameSiteLaxMode,
		},
		unset: true,
	}
}

// RequestSetCookie wraps cookie as a set instruction.
func RequestSetCookie(cookie http.Cookie) GetOrUnsetCookie {
	return GetOrUnsetCookie{cookie: &cookie}
}
