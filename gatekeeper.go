package waitingroom

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

const (
	DefaultPassCookieName   = "waiting-room-pass"
	DefaultPassCookieMaxAge = 300 * time.Second

	passTokenParam = "pass_token"
)

type GatekeeperOption interface {
	apply(options *gatekeeperOptions)
}

type GatekeeperOptionFunc func(options *gatekeeperOptions)

func (f GatekeeperOptionFunc) apply(options *gatekeeperOptions) {
	f(options)
}

type gatekeeperOptions struct {
	cookieName   string
	maxCookieAge time.Duration
}

func defaultGatekeeperOptions() *gatekeeperOptions {
	return &gatekeeperOptions{
		cookieName:   DefaultPassCookieName,
		maxCookieAge: DefaultPassCookieMaxAge,
	}
}

func WithPassCookieName(name string) GatekeeperOption {
	return GatekeeperOptionFunc(func(options *gatekeeperOptions) {
		options.cookieName = name
	})
}

// WithMaxCookieAge caps the lifetime of the pass cookie set when a URL
// pass token is exchanged. The cookie never outlives the credential.
func WithMaxCookieAge(maxAge time.Duration) GatekeeperOption {
	return GatekeeperOptionFunc(func(options *gatekeeperOptions) {
		options.maxCookieAge = maxAge
	})
}

// Gatekeeper guards the protected resource. Requests pass through
// unmodified when the waiting room is inactive or the requester holds a
// valid pass; everything else is redirected to the waiting-room entry URL.
type Gatekeeper struct {
	flag           *flagstore.Cached
	signer         *pass.Signer
	waitingRoomURL string
	options        *gatekeeperOptions
}

func NewGatekeeper(flag *flagstore.Cached, signer *pass.Signer, waitingRoomURL string, opts ...GatekeeperOption) *Gatekeeper {
	options := defaultGatekeeperOptions()
	for _, o := range opts {
		o.apply(options)
	}
	return &Gatekeeper{
		flag:           flag,
		signer:         signer,
		waitingRoomURL: waitingRoomURL,
		options:        options,
	}
}

// Handler wraps the protected resource's handler with the admission check.
func (g *Gatekeeper) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.flag.Enabled(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(g.options.cookieName); err == nil {
			if _, err := g.signer.Verify(cookie.Value); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			// expired or invalid cookie is not fatal: the URL token below
			// may still grant access
			wrlog.Debugf("invalid pass cookie: %+v", err)
		}

		if passToken := r.URL.Query().Get(passTokenParam); passToken != "" {
			claims, err := g.signer.Verify(passToken)
			if err == nil {
				g.exchangeURLToken(w, r, passToken, claims)
				return
			}
			wrlog.Debugf("invalid %s in URL: %+v", passTokenParam, err)
		}

		http.Redirect(w, r, g.waitingRoomURL, http.StatusFound)
	})
}

// exchangeURLToken turns a one-time URL pass token into a cookie-based
// session pass and redirects to the canonicalized URL with the token
// stripped from the address bar.
func (g *Gatekeeper) exchangeURLToken(w http.ResponseWriter, r *http.Request, passToken string, claims *jwt.RegisteredClaims) {
	maxAge := int(g.options.maxCookieAge.Seconds())
	if remaining := int(time.Until(claims.ExpiresAt.Time).Seconds()); remaining < maxAge {
		maxAge = remaining
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.options.cookieName,
		Value:    passToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
	})

	location := *r.URL
	query := location.Query()
	query.Del(passTokenParam)
	location.RawQuery = query.Encode()
	http.Redirect(w, r, location.String(), http.StatusFound)
}
