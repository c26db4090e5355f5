package contentprovider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/rewrite"
)

const removedBodyHTML = `<div class="md"><p>[removed]</p></div>`

type redditThing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type redditListing struct {
	After    *string       `json:"after"`
	Before   *string       `json:"before"`
	Children []redditThing `json:"children"`
}

type redditImageSource struct {
	URL    string `json:"url"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

type redditPreviewImage struct {
	Source   redditImageSource `json:"source"`
	Variants struct {
		MP4 *struct {
			Source redditImageSource `json:"source"`
		} `json:"mp4"`
	} `json:"variants"`
}

type redditVideo struct {
	FallbackURL string `json:"fallback_url"`
	HLSURL      string `json:"hls_url"`
	IsGif       bool   `json:"is_gif"`
	Width       int64  `json:"width"`
	Height      int64  `json:"height"`
}

type redditSecureMedia struct {
	RedditVideo *redditVideo `json:"reddit_video"`
}

type redditPreview struct {
	Images             []redditPreviewImage `json:"images"`
	RedditVideoPreview *redditVideo         `json:"reddit_video_preview"`
}

type redditGalleryData struct {
	Items []struct {
		MediaID     string `json:"media_id"`
		Caption     string `json:"caption"`
		OutboundURL string `json:"outbound_url"`
	} `json:"items"`
}

type redditMediaMetadata struct {
	MimeType string `json:"m"`
	Source   struct {
		URL    string `json:"u"`
		Gif    string `json:"gif"`
		Width  int64  `json:"x"`
		Height int64  `json:"y"`
	} `json:"s"`
}

type redditPollData struct {
	TotalVoteCount     int64    `json:"total_vote_count"`
	VotingEndTimestamp *float64 `json:"voting_end_timestamp"`
	Options            []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		VoteCount *int64 `json:"vote_count"`
	} `json:"options"`
}

type redditPost struct {
	ID                    string                         `json:"id"`
	Title                 string                         `json:"title"`
	Subreddit             string                         `json:"subreddit"`
	Author                string                         `json:"author"`
	AuthorFlairText       string                         `json:"author_flair_text"`
	AuthorFlairBackground string                         `json:"author_flair_background_color"`
	AuthorFlairTextColor  string                         `json:"author_flair_text_color"`
	LinkFlairText         string                         `json:"link_flair_text"`
	LinkFlairBackground   string                         `json:"link_flair_background_color"`
	LinkFlairTextColor    string                         `json:"link_flair_text_color"`
	Permalink             string                         `json:"permalink"`
	URL                   string                         `json:"url"`
	Domain                string                         `json:"domain"`
	SelftextHTML          *string                        `json:"selftext_html"`
	BodyHTML              *string                        `json:"body_html"`
	RemovedByCategory     *string                        `json:"removed_by_category"`
	Score                 int64                          `json:"score"`
	UpvoteRatio           *float64                       `json:"upvote_ratio"`
	NumComments           int64                          `json:"num_comments"`
	CreatedUTC            float64                        `json:"created_utc"`
	Over18                bool                           `json:"over_18"`
	Spoiler               bool                           `json:"spoiler"`
	Stickied              bool                           `json:"stickied"`
	Pinned                bool                           `json:"pinned"`
	Locked                bool                           `json:"locked"`
	IsSelf                bool                           `json:"is_self"`
	IsGallery             bool                           `json:"is_gallery"`
	PostHint              string                         `json:"post_hint"`
	Preview               *redditPreview                 `json:"preview"`
	SecureMedia           *redditSecureMedia             `json:"secure_media"`
	CrosspostParentList   []redditPost                   `json:"crosspost_parent_list"`
	Thumbnail             string                         `json:"thumbnail"`
	ThumbnailWidth        *int64                         `json:"thumbnail_width"`
	ThumbnailHeight       *int64                         `json:"thumbnail_height"`
	GalleryData           *redditGalleryData             `json:"gallery_data"`
	MediaMetadata         map[string]redditMediaMetadata `json:"media_metadata"`
	PollData              *redditPollData                `json:"poll_data"`
	AllAwardings          []redditAward                  `json:"all_awardings"`
}

type redditAward struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Count        *int64 `json:"count"`
	ResizedIcons []struct {
		URL string `json:"url"`
	} `json:"resized_icons"`
}

type redditComment struct {
	ID                    string  `json:"id"`
	Author                string  `json:"author"`
	AuthorFlairText       string  `json:"author_flair_text"`
	AuthorFlairBackground string  `json:"author_flair_background_color"`
	AuthorFlairTextColor  string  `json:"author_flair_text_color"`
	BodyHTML              string  `json:"body_html"`
	Score                 int64   `json:"score"`
	CreatedUTC            float64 `json:"created_utc"`
	Distinguished         *string `json:"distinguished"`
	Stickied              bool    `json:"stickied"`
	Depth                 int     `json:"depth"`
	// Either an empty string or a listing
	Replies json.RawMessage `json:"replies"`
}

type redditMore struct {
	Count int64 `json:"count"`
}

type redditSubreddit struct {
	DisplayName           string  `json:"display_name"`
	Title                 string  `json:"title"`
	PublicDescriptionHTML *string `json:"public_description_html"`
	CommunityIcon         string  `json:"community_icon"`
	IconImg               string  `json:"icon_img"`
	Subscribers           int64   `json:"subscribers"`
	AccountsActive        int64   `json:"accounts_active"`
	ActiveUserCount       int64   `json:"active_user_count"`
	Over18                bool    `json:"over18"`
	CreatedUTC            float64 `json:"created_utc"`
}

type redditUser struct {
	Name       string  `json:"name"`
	IconImg    string  `json:"icon_img"`
	TotalKarma int64   `json:"total_karma"`
	CreatedUTC float64 `json:"created_utc"`
	Subreddit  *struct {
		Title             string `json:"title"`
		IconImg           string `json:"icon_img"`
		BannerImg         string `json:"banner_img"`
		PublicDescription string `json:"public_description"`
	} `json:"subreddit"`
}

func parseContent(kind domain.ContentKind, body []byte) (domain.Content, error) {
	content := domain.Content{Kind: kind}

	switch kind {
	case domain.KindListing, domain.KindSearch, domain.KindUserListing:
		var thing redditThing
		if err := json.Unmarshal(body, &thing); err != nil {
			return domain.Content{}, fmt.Errorf("failed to parse listing: %w", err)
		}
		listing, err := parseListing(thing)
		if err != nil {
			return domain.Content{}, err
		}
		content.Listing = &listing
	case domain.KindThread:
		thread, err := parseThread(body)
		if err != nil {
			return domain.Content{}, err
		}
		content.Thread = &thread
	case domain.KindSubredditInfo:
		var subreddit redditSubreddit
		if err := parseThing(body, "t5", &subreddit); err != nil {
			return domain.Content{}, err
		}
		content.Subreddit = subredditToDomain(subreddit)
	case domain.KindUserInfo:
		var user redditUser
		if err := parseThing(body, "t2", &user); err != nil {
			return domain.Content{}, err
		}
		content.User = userToDomain(user)
	default:
		return domain.Content{}, fmt.Errorf("unknown content kind %q", kind)
	}

	return content, nil
}

func parseThing(body []byte, expectedKind string, into any) error {
	var thing redditThing
	if err := json.Unmarshal(body, &thing); err != nil {
		return fmt.Errorf("failed to parse %s: %w", expectedKind, err)
	}
	if thing.Kind != expectedKind {
		return fmt.Errorf("expected kind %s, got %q", expectedKind, thing.Kind)
	}
	if err := json.Unmarshal(thing.Data, into); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", expectedKind, err)
	}
	return nil
}

func decodeListing(thing redditThing) (redditListing, error) {
	if thing.Kind != "Listing" {
		return redditListing{}, fmt.Errorf("expected kind Listing, got %q", thing.Kind)
	}
	var listing redditListing
	if err := json.Unmarshal(thing.Data, &listing); err != nil {
		return redditListing{}, fmt.Errorf("failed to parse listing data: %w", err)
	}
	return listing, nil
}

func parseListing(thing redditThing) (domain.Listing, error) {
	listing, err := decodeListing(thing)
	if err != nil {
		return domain.Listing{}, err
	}

	result := domain.Listing{Posts: []domain.Post{}}
	if listing.After != nil {
		result.After = *listing.After
	}
	if listing.Before != nil {
		result.Before = *listing.Before
	}

	for _, child := range listing.Children {
		switch child.Kind {
		case "t3":
			var post redditPost
			if err := json.Unmarshal(child.Data, &post); err != nil {
				return domain.Listing{}, fmt.Errorf("failed to parse post: %w", err)
			}
			result.Posts = append(result.Posts, postToDomain(post))
		case "t1":
			// User overviews mix comments into the listing
			comment, err := parseComment(child.Data)
			if err != nil {
				return domain.Listing{}, err
			}
			result.Comments = append(result.Comments, comment)
		}
	}

	return result, nil
}

// A thread is a pair of listings: the post, then its comments
func parseThread(body []byte) (domain.Thread, error) {
	var things []redditThing
	if err := json.Unmarshal(body, &things); err != nil {
		return domain.Thread{}, fmt.Errorf("failed to parse thread: %w", err)
	}
	if len(things) != 2 {
		return domain.Thread{}, fmt.Errorf("expected 2 listings in thread, got %d", len(things))
	}

	postListing, err := decodeListing(things[0])
	if err != nil {
		return domain.Thread{}, err
	}
	if len(postListing.Children) == 0 || postListing.Children[0].Kind != "t3" {
		return domain.Thread{}, errors.New("thread is missing its post")
	}
	var post redditPost
	if err := json.Unmarshal(postListing.Children[0].Data, &post); err != nil {
		return domain.Thread{}, fmt.Errorf("failed to parse post: %w", err)
	}

	comments, _, err := parseComments(things[1])
	if err != nil {
		return domain.Thread{}, err
	}

	return domain.Thread{
		Post:     postToDomain(post),
		Comments: comments,
	}, nil
}

// parseComments returns the comments of a listing and the number of comments left out of it
func parseComments(thing redditThing) ([]domain.Comment, int64, error) {
	listing, err := decodeListing(thing)
	if err != nil {
		return nil, 0, err
	}

	comments := []domain.Comment{}
	var more int64
	for _, child := range listing.Children {
		switch child.Kind {
		case "t1":
			comment, err := parseComment(child.Data)
			if err != nil {
				return nil, 0, err
			}
			comments = append(comments, comment)
		case "more":
			var m redditMore
			if err := json.Unmarshal(child.Data, &m); err != nil {
				return nil, 0, fmt.Errorf("failed to parse more: %w", err)
			}
			more += m.Count
		}
	}

	return comments, more, nil
}

func parseComment(data json.RawMessage) (domain.Comment, error) {
	var c redditComment
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Comment{}, fmt.Errorf("failed to parse comment: %w", err)
	}

	comment := domain.Comment{
		ID:     c.ID,
		Author: c.Author,
		AuthorFlair: domain.Flair{
			Text:            c.AuthorFlairText,
			BackgroundColor: c.AuthorFlairBackground,
			ForegroundColor: c.AuthorFlairTextColor,
		},
		BodyHTML:  renderHTML(c.BodyHTML),
		Score:     c.Score,
		CreatedAt: fromUnixSeconds(c.CreatedUTC),
		Stickied:  c.Stickied,
		Depth:     c.Depth,
	}
	if c.Distinguished != nil {
		comment.Distinguished = *c.Distinguished
	}

	replies := bytes.TrimSpace(c.Replies)
	if len(replies) > 0 && replies[0] == '{' {
		var thing redditThing
		if err := json.Unmarshal(replies, &thing); err != nil {
			return domain.Comment{}, fmt.Errorf("failed to parse replies: %w", err)
		}
		children, more, err := parseComments(thing)
		if err != nil {
			return domain.Comment{}, err
		}
		if len(children) > 0 {
			comment.Replies = children
		}
		comment.MoreCount = more
	}

	return comment, nil
}

func postToDomain(p redditPost) domain.Post {
	postType, media, gallery := parseMedia(p)

	upvoteRatio := 1.0
	if p.UpvoteRatio != nil {
		upvoteRatio = *p.UpvoteRatio
	}

	linkFlairForeground := "white"
	if p.LinkFlairTextColor == "dark" {
		linkFlairForeground = "black"
	}

	post := domain.Post{
		ID:        p.ID,
		Title:     p.Title,
		Subreddit: p.Subreddit,
		Author:    p.Author,
		AuthorFlair: domain.Flair{
			Text:            p.AuthorFlairText,
			BackgroundColor: p.AuthorFlairBackground,
			ForegroundColor: p.AuthorFlairTextColor,
		},
		Permalink:    p.Permalink,
		Domain:       p.Domain,
		BodyHTML:     postBody(p),
		Score:        p.Score,
		UpvoteRatio:  upvoteRatio,
		CommentCount: p.NumComments,
		CreatedAt:    fromUnixSeconds(p.CreatedUTC),
		NSFW:         p.Over18,
		Spoiler:      p.Spoiler,
		Stickied:     p.Stickied || p.Pinned,
		Locked:       p.Locked,
		Type:         postType,
		Media:        media,
		Thumbnail:    domain.Image{URL: rewrite.FormatURL(p.Thumbnail)},
		Gallery:      gallery,
		Poll:         pollToDomain(p.PollData),
		Awards:       awardsToDomain(p.AllAwardings),
	}
	if p.LinkFlairText != "" {
		post.Flair = domain.Flair{
			Text:            p.LinkFlairText,
			BackgroundColor: p.LinkFlairBackground,
			ForegroundColor: linkFlairForeground,
		}
	}
	if p.ThumbnailWidth != nil {
		post.Thumbnail.Width = *p.ThumbnailWidth
	}
	if p.ThumbnailHeight != nil {
		post.Thumbnail.Height = *p.ThumbnailHeight
	}

	return post
}

func awardsToDomain(awardings []redditAward) []domain.Award {
	if len(awardings) == 0 {
		return nil
	}

	awards := make([]domain.Award, 0, len(awardings))
	for _, awarding := range awardings {
		award := domain.Award{
			Name:        awarding.Name,
			Description: awarding.Description,
			Count:       1,
		}
		if awarding.Count != nil {
			award.Count = *awarding.Count
		}
		if len(awarding.ResizedIcons) > 0 {
			award.IconURL = rewrite.FormatURL(awarding.ResizedIcons[0].URL)
		}
		awards = append(awards, award)
	}
	return awards
}

func postBody(p redditPost) string {
	if p.RemovedByCategory != nil && *p.RemovedByCategory == "moderator" {
		return removedBodyHTML
	}
	if p.SelftextHTML != nil {
		return renderHTML(*p.SelftextHTML)
	}
	if p.BodyHTML != nil {
		return renderHTML(*p.BodyHTML)
	}
	return ""
}

func renderHTML(html string) string {
	if html == "" {
		return ""
	}
	return rewrite.RewriteURLs(rewrite.SanitizeHTML(html))
}

func videoMedia(video *redditVideo) (domain.PostType, domain.Media) {
	postType := domain.PostTypeVideo
	if video.IsGif {
		postType = domain.PostTypeGif
	}
	return postType, domain.Media{
		URL:    rewrite.FormatURL(video.FallbackURL),
		AltURL: rewrite.FormatURL(video.HLSURL),
		Width:  video.Width,
		Height: video.Height,
	}
}

// parseMedia decides what kind of post p is and where its primary media lives
func parseMedia(p redditPost) (domain.PostType, domain.Media, []domain.GalleryItem) {
	var firstImage *redditPreviewImage
	if p.Preview != nil && len(p.Preview.Images) > 0 {
		firstImage = &p.Preview.Images[0]
	}

	postType, media, gallery := classifyMedia(p, firstImage)

	if firstImage != nil {
		if media.Width == 0 && media.Height == 0 {
			media.Width = firstImage.Source.Width
			media.Height = firstImage.Source.Height
		}
		media.Poster = domain.Image{
			URL:    rewrite.FormatURL(firstImage.Source.URL),
			Width:  firstImage.Source.Width,
			Height: firstImage.Source.Height,
		}
	}

	return postType, media, gallery
}

func classifyMedia(p redditPost, firstImage *redditPreviewImage) (domain.PostType, domain.Media, []domain.GalleryItem) {
	switch {
	case p.Preview != nil && p.Preview.RedditVideoPreview != nil:
		postType, media := videoMedia(p.Preview.RedditVideoPreview)
		return postType, media, nil
	case p.SecureMedia != nil && p.SecureMedia.RedditVideo != nil:
		postType, media := videoMedia(p.SecureMedia.RedditVideo)
		return postType, media, nil
	case len(p.CrosspostParentList) > 0 &&
		p.CrosspostParentList[0].SecureMedia != nil &&
		p.CrosspostParentList[0].SecureMedia.RedditVideo != nil:
		postType, media := videoMedia(p.CrosspostParentList[0].SecureMedia.RedditVideo)
		return postType, media, nil
	case p.PostHint == "image" && firstImage != nil:
		if firstImage.Variants.MP4 != nil {
			return domain.PostTypeGif, domain.Media{URL: rewrite.FormatURL(firstImage.Variants.MP4.Source.URL)}, nil
		}
		url := firstImage.Source.URL
		if p.Domain == "i.redd.it" {
			url = p.URL
		}
		return domain.PostTypeImage, domain.Media{URL: rewrite.FormatURL(url)}, nil
	case p.IsSelf:
		return domain.PostTypeSelf, domain.Media{URL: p.Permalink}, nil
	case p.IsGallery:
		return domain.PostTypeGallery, domain.Media{URL: rewrite.FormatURL(p.URL)}, galleryToDomain(p)
	case p.Domain == "i.redd.it":
		return domain.PostTypeImage, domain.Media{URL: rewrite.FormatURL(p.URL)}, nil
	default:
		return domain.PostTypeLink, domain.Media{URL: rewrite.FormatURL(p.URL)}, nil
	}
}

func galleryToDomain(p redditPost) []domain.GalleryItem {
	if p.GalleryData == nil {
		return nil
	}

	items := make([]domain.GalleryItem, 0, len(p.GalleryData.Items))
	for _, item := range p.GalleryData.Items {
		metadata, ok := p.MediaMetadata[item.MediaID]
		if !ok {
			continue
		}

		url := metadata.Source.URL
		if metadata.MimeType == "image/gif" {
			url = metadata.Source.Gif
		}

		items = append(items, domain.GalleryItem{
			URL:         rewrite.FormatURL(url),
			Width:       metadata.Source.Width,
			Height:      metadata.Source.Height,
			Caption:     item.Caption,
			OutboundURL: item.OutboundURL,
		})
	}

	return items
}

func pollToDomain(poll *redditPollData) *domain.Poll {
	if poll == nil {
		return nil
	}

	result := &domain.Poll{
		Options:    make([]domain.PollOption, 0, len(poll.Options)),
		TotalVotes: poll.TotalVoteCount,
	}
	if poll.VotingEndTimestamp != nil {
		result.VotingEndsAt = time.UnixMilli(int64(*poll.VotingEndTimestamp)).UTC()
	}
	for _, option := range poll.Options {
		result.Options = append(result.Options, domain.PollOption{
			ID:    option.ID,
			Text:  option.Text,
			Votes: option.VoteCount,
		})
	}

	return result
}

func subredditToDomain(s redditSubreddit) *domain.Subreddit {
	icon := s.CommunityIcon
	if icon == "" {
		icon = s.IconImg
	}

	active := s.AccountsActive
	if active == 0 {
		active = s.ActiveUserCount
	}

	subreddit := &domain.Subreddit{
		Name:      s.DisplayName,
		Title:     s.Title,
		Icon:      rewrite.FormatURL(icon),
		Members:   s.Subscribers,
		Active:    active,
		NSFW:      s.Over18,
		CreatedAt: fromUnixSeconds(s.CreatedUTC),
	}
	if s.PublicDescriptionHTML != nil {
		subreddit.DescriptionHTML = renderHTML(*s.PublicDescriptionHTML)
	}

	return subreddit
}

func userToDomain(u redditUser) *domain.User {
	user := &domain.User{
		Name:      u.Name,
		Icon:      rewrite.FormatURL(u.IconImg),
		Karma:     u.TotalKarma,
		CreatedAt: fromUnixSeconds(u.CreatedUTC),
	}
	if u.Subreddit != nil {
		user.Title = u.Subreddit.Title
		user.Banner = rewrite.FormatURL(u.Subreddit.BannerImg)
		user.Description = u.Subreddit.PublicDescription
		if u.Subreddit.IconImg != "" {
			user.Icon = rewrite.FormatURL(u.Subreddit.IconImg)
		}
	}

	return user
}

func fromUnixSeconds(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
