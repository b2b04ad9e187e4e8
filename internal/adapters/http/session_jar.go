package http

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// sessionJar holds the cookies of one login. Reset starts a new login for
// another account, so cookies never leak from one fid to the next.
type sessionJar struct {
	mu    sync.Mutex
	owner string
	jar   *cookiejar.Jar
	hosts map[string]*url.URL
}

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.reset("")
	return j
}

func (j *sessionJar) reset(owner string) {
	// cookiejar.New only fails on bad options.
	jar, _ := cookiejar.New(nil)
	j.owner = owner
	j.jar = jar
	j.hosts = make(map[string]*url.URL)
}

// Reset drops every cookie and assigns the jar to owner.
func (j *sessionJar) Reset(owner string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reset(owner)
}

func (j *sessionJar) Owner() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.owner
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(cookies) == 0 {
		return
	}
	j.jar.SetCookies(u, cookies)
	j.hosts[u.Host] = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// HasCookies reports whether the current login holds any live cookie.
func (j *sessionJar) HasCookies() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, u := range j.hosts {
		if len(j.jar.Cookies(u)) > 0 {
			return true
		}
	}
	return false
}
