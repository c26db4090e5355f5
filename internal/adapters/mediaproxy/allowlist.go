package mediaproxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/domain"
)

const maxRedirects = 5

// hostAllowList admits plain https urls on an exact set of hosts
type hostAllowList map[string]struct{}

func newHostAllowList(hosts []string) (hostAllowList, error) {
	if len(hosts) == 0 {
		return nil, errors.New("no allowed media hosts")
	}

	allowList := make(hostAllowList, len(hosts))
	for _, host := range hosts {
		allowList[strings.ToLower(host)] = struct{}{}
	}
	return allowList, nil
}

func (l hostAllowList) check(originURL *url.URL) error {
	if originURL.Scheme != "https" || originURL.Opaque != "" || originURL.User != nil || originURL.Port() != "" {
		return fmt.Errorf("%w: origin url must be a plain https url", domain.ErrForbidden)
	}

	if _, ok := l[strings.ToLower(originURL.Hostname())]; !ok {
		return fmt.Errorf("%w: host %q is not allowed", domain.ErrForbidden, originURL.Hostname())
	}

	return nil
}

func (l hostAllowList) checkRaw(originURL string) error {
	parsed, err := url.Parse(originURL)
	if err != nil {
		return fmt.Errorf("%w: invalid origin url: %w", domain.ErrForbidden, err)
	}
	return l.check(parsed)
}

// RedirectPolicy returns a CheckRedirect for the media http client that only follows redirects to
// allowed hosts. Refusals wrap upstream.ErrRedirectRefused, and domain.ErrForbidden when the target
// host is the problem.
func RedirectPolicy(allowedHosts []string) (func(req *http.Request, via []*http.Request) error, error) {
	allowList, err := newHostAllowList(allowedHosts)
	if err != nil {
		return nil, err
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d redirects", upstream.ErrRedirectRefused, maxRedirects)
		}
		if err := allowList.check(req.URL); err != nil {
			return fmt.Errorf("%w: %w", upstream.ErrRedirectRefused, err)
		}
		return nil
	}, nil
}
