package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"pagechat/internal/apperr"
	"pagechat/internal/text"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoID extracts the 11-character id from the common YouTube URL forms:
// watch?v=, youtu.be/, /embed/, /shorts/, /live/ and /v/.
func VideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidSourceURL, raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch host {
	case "youtu.be":
		id = segments[0]
	case "youtube.com", "youtube-nocookie.com":
		switch {
		case segments[0] == "watch":
			id = u.Query().Get("v")
		case len(segments) >= 2 && (segments[0] == "embed" || segments[0] == "shorts" || segments[0] == "live" || segments[0] == "v"):
			id = segments[1]
		}
	}

	if !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", apperr.ErrInvalidSourceURL, raw)
	}
	return id, nil
}

type VideoDetails struct {
	Title       string
	Description string
	Channel     string
	PublishedAt string
}

// KeyFunc returns the current YouTube Data API key. Keys live in settings
// and can change at runtime.
type KeyFunc func(ctx context.Context) (string, error)

// YouTube fetches video metadata from the YouTube Data API v3.
type YouTube struct {
	key  KeyFunc
	opts []option.ClientOption
}

func NewYouTube(key KeyFunc, opts ...option.ClientOption) *YouTube {
	return &YouTube{key: key, opts: opts}
}

func (y *YouTube) Fetch(ctx context.Context, origin string, _ int) ([]text.Section, error) {
	id, err := VideoID(origin)
	if err != nil {
		return nil, err
	}

	v, err := y.VideoDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", v.Title)
	fmt.Fprintf(&b, "Channel: %s\n", v.Channel)
	fmt.Fprintf(&b, "Published: %s\n", v.PublishedAt)
	if v.Description != "" {
		b.WriteString("\n")
		b.WriteString(v.Description)
	}
	return []text.Section{{Text: text.Normalize(b.String())}}, nil
}

// VideoDetails distinguishes a missing video (ErrSourceNotFound) from a
// failed call (ErrFetch).
func (y *YouTube) VideoDetails(ctx context.Context, id string) (*VideoDetails, error) {
	key, err := y.key(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube key: %v", apperr.ErrFetch, err)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: youtube api key not configured", apperr.ErrFetch)
	}

	opts := append([]option.ClientOption{option.WithAPIKey(key)}, y.opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube client: %v", apperr.ErrFetch, err)
	}

	resp, err := svc.Videos.List([]string{"snippet"}).Id(id).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: video %s", apperr.ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("%w: youtube videos.list: %v", apperr.ErrFetch, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, fmt.Errorf("%w: video %s", apperr.ErrSourceNotFound, id)
	}

	s := resp.Items[0].Snippet
	return &VideoDetails{
		Title:       s.Title,
		Description: s.Description,
		Channel:     s.ChannelTitle,
		PublishedAt: s.PublishedAt,
	}, nil
}
