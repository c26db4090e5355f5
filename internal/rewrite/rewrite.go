package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var ErrUnknownRoute = errors.New("unknown media route")

var (
	redditLinkRx      = regexp.MustCompile(`^https?://(?:www\.|old\.|np\.)?reddit\.com/(.*)`)
	videoRx           = regexp.MustCompile(`^https?://v\.redd\.it/(.*)/DASH_([0-9]{2,4}(?:\.mp4)?)(?:$|\?)`)
	hlsRx             = regexp.MustCompile(`^https?://v\.redd\.it/(.+)/(HLSPlaylist\.m3u8.*)$`)
	imageRx           = regexp.MustCompile(`^https?://i\.redd\.it/(.*)`)
	thumbRx           = regexp.MustCompile(`^https?://([ab])\.thumbs\.redditmedia\.com/(.*)`)
	emojiRx           = regexp.MustCompile(`^https?://emoji\.redditmedia\.com/(.*)/(.*)`)
	previewRx         = regexp.MustCompile(`^https?://preview\.redd\.it/(.*)`)
	externalPreviewRx = regexp.MustCompile(`^https?://external-preview\.redd\.it/(.*)`)
	stylesRx          = regexp.MustCompile(`^https?://styles\.redditmedia\.com/(.*)`)
	staticRx          = regexp.MustCompile(`^https?://www\.redditstatic\.com/(.*)`)
)

func capture(rx *regexp.Regexp, rawURL string, prefix string) string {
	match := rx.FindStringSubmatch(rawURL)
	if match == nil {
		return ""
	}
	return prefix + strings.Join(match[1:], "/")
}

// FormatURL turns an upstream url into a same-origin path. Links to the content site become relative
// links, media urls become media proxy paths and anything else is returned unchanged.
//
// Placeholder values used by the content API for missing thumbnails return "". So does a url on a media
// host whose path doesn't match a proxy route.
func FormatURL(rawURL string) string {
	switch rawURL {
	case "", "self", "default", "nsfw", "spoiler", "image":
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	switch strings.ToLower(parsed.Hostname()) {
	case "www.reddit.com", "old.reddit.com", "np.reddit.com", "reddit.com":
		return capture(redditLinkRx, rawURL, "/")
	case "v.redd.it":
		if formatted := capture(videoRx, rawURL, "/vid/"); formatted != "" {
			return formatted
		}
		return capture(hlsRx, rawURL, "/hls/")
	case "i.redd.it":
		return capture(imageRx, rawURL, "/img/")
	case "a.thumbs.redditmedia.com", "b.thumbs.redditmedia.com":
		return capture(thumbRx, rawURL, "/thumb/")
	case "emoji.redditmedia.com":
		return capture(emojiRx, rawURL, "/emoji/")
	case "preview.redd.it":
		return capture(previewRx, rawURL, "/preview/pre/")
	case "external-preview.redd.it":
		return capture(externalPreviewRx, rawURL, "/preview/external-pre/")
	case "styles.redditmedia.com":
		return capture(stylesRx, rawURL, "/style/")
	case "www.redditstatic.com":
		return capture(staticRx, rawURL, "/static/")
	default:
		return rawURL
	}
}

var (
	bodyLinkRx    = regexp.MustCompile(`href="(?:https?:)?//(?:www\.|old\.|np\.|amp\.|new\.)?(?:reddit\.com|redd\.it)/`)
	bodyStaticRx  = regexp.MustCompile(`https?://(?:www\.)?redditstatic\.com/[^\s"'<>]*`)
	bodyPreviewRx = regexp.MustCompile(`https?://(?:external-preview|preview)\.redd\.it/[^\s"'<>]*`)
)

// RewriteURLs rewrites links to the content site and embedded media in body html to same-origin urls
func RewriteURLs(html string) string {
	html = bodyLinkRx.ReplaceAllString(html, `href="/`)
	html = bodyStaticRx.ReplaceAllStringFunc(html, FormatURL)

	// Escaped markdown leaks into urls
	html = strings.ReplaceAll(html, "%5C", "")
	html = strings.ReplaceAll(html, `\_`, "_")

	return bodyPreviewRx.ReplaceAllStringFunc(html, FormatURL)
}

// OriginURL is the inverse of FormatURL for media proxy paths: it returns the upstream url a proxy path
// stands for. rawQuery is appended unchanged.
func OriginURL(proxyPath string, rawQuery string) (string, error) {
	route, rest, ok := strings.Cut(strings.TrimPrefix(proxyPath, "/"), "/")
	if !ok || rest == "" || strings.Contains(rest, "..") {
		return "", fmt.Errorf("%w: %s", ErrUnknownRoute, proxyPath)
	}

	var origin string
	switch route {
	case "vid":
		id, size, ok := strings.Cut(rest, "/")
		if !ok || id == "" || size == "" || strings.Contains(size, "/") {
			return "", fmt.Errorf("%w: %s", ErrUnknownRoute, proxyPath)
		}
		origin = fmt.Sprintf("https://v.redd.it/%s/DASH_%s", id, size)
	case "hls":
		origin = "https://v.redd.it/" + rest
	case "img":
		origin = "https://i.redd.it/" + rest
	case "thumb":
		point, id, ok := strings.Cut(rest, "/")
		if !ok || (point != "a" && point != "b") || id == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownRoute, proxyPath)
		}
		origin = fmt.Sprintf("https://%s.thumbs.redditmedia.com/%s", point, id)
	case "emoji":
		origin = "https://emoji.redditmedia.com/" + rest
	case "preview":
		location, path, ok := strings.Cut(rest, "/")
		if !ok || (location != "pre" && location != "external-pre") || path == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownRoute, proxyPath)
		}
		origin = fmt.Sprintf("https://%sview.redd.it/%s", location, path)
	case "style":
		origin = "https://styles.redditmedia.com/" + rest
	case "static":
		origin = "https://www.redditstatic.com/" + rest
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownRoute, proxyPath)
	}

	if rawQuery != "" {
		origin += "?" + rawQuery
	}

	return origin, nil
}
