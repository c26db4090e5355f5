package domain

import "time"

// Content is the parsed answer to a ContentRequest. Exactly one of the pointers is set, matching Kind.
type Content struct {
	Kind      ContentKind `json:"kind"`
	Listing   *Listing    `json:"listing,omitempty"`
	Thread    *Thread     `json:"thread,omitempty"`
	Subreddit *Subreddit  `json:"subreddit,omitempty"`
	User      *User       `json:"user,omitempty"`

	// Set when the content was served for another path than requested, as for /r/random
	ResolvedPath string `json:"resolvedPath,omitempty"`
}

type Listing struct {
	Posts    []Post    `json:"posts"`
	Comments []Comment `json:"comments,omitempty"`
	After    string    `json:"after,omitempty"`
	Before   string    `json:"before,omitempty"`
}

type Thread struct {
	Post     Post      `json:"post"`
	Comments []Comment `json:"comments"`
}

type PostType string

const (
	PostTypeVideo   PostType = "video"
	PostTypeGif     PostType = "gif"
	PostTypeImage   PostType = "image"
	PostTypeSelf    PostType = "self"
	PostTypeGallery PostType = "gallery"
	PostTypeLink    PostType = "link"
)

type Image struct {
	URL    string `json:"url"`
	Width  int64  `json:"width,omitempty"`
	Height int64  `json:"height,omitempty"`
}

// Media is the primary attachment of a post. URL is already rewritten to a same-origin path when the
// origin is a proxied media host.
type Media struct {
	URL    string `json:"url"`
	AltURL string `json:"altUrl,omitempty"`
	Width  int64  `json:"width,omitempty"`
	Height int64  `json:"height,omitempty"`
	Poster Image  `json:"poster"`
}

type GalleryItem struct {
	URL         string `json:"url"`
	Width       int64  `json:"width,omitempty"`
	Height      int64  `json:"height,omitempty"`
	Caption     string `json:"caption,omitempty"`
	OutboundURL string `json:"outboundUrl,omitempty"`
}

type Flair struct {
	Text            string `json:"text,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	ForegroundColor string `json:"foregroundColor,omitempty"`
}

type PollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Nil until voting has ended
	Votes *int64 `json:"votes,omitempty"`
}

type Poll struct {
	Options      []PollOption `json:"options"`
	TotalVotes   int64        `json:"totalVotes"`
	VotingEndsAt time.Time    `json:"votingEndsAt"`
}

type Award struct {
	Name        string `json:"name"`
	IconURL     string `json:"iconUrl,omitempty"`
	Description string `json:"description,omitempty"`
	Count       int64  `json:"count"`
}

type Post struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Subreddit    string        `json:"subreddit"`
	Author       string        `json:"author"`
	AuthorFlair  Flair         `json:"authorFlair"`
	Flair        Flair         `json:"flair"`
	Permalink    string        `json:"permalink"`
	Domain       string        `json:"domain,omitempty"`
	BodyHTML     string        `json:"bodyHtml,omitempty"`
	Score        int64         `json:"score"`
	UpvoteRatio  float64       `json:"upvoteRatio"`
	CommentCount int64         `json:"commentCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	NSFW         bool          `json:"nsfw"`
	Spoiler      bool          `json:"spoiler"`
	Stickied     bool          `json:"stickied"`
	Locked       bool          `json:"locked"`
	Type         PostType      `json:"type"`
	Media        Media         `json:"media"`
	Thumbnail    Image         `json:"thumbnail"`
	Gallery      []GalleryItem `json:"gallery,omitempty"`
	Poll         *Poll         `json:"poll,omitempty"`
	Awards       []Award       `json:"awards,omitempty"`
}

type Comment struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	AuthorFlair   Flair     `json:"authorFlair"`
	BodyHTML      string    `json:"bodyHtml"`
	Score         int64     `json:"score"`
	CreatedAt     time.Time `json:"createdAt"`
	Distinguished string    `json:"distinguished,omitempty"`
	Stickied      bool      `json:"stickied"`
	Depth         int       `json:"depth"`
	Replies       []Comment `json:"replies,omitempty"`
	// Number of replies not included in the response
	MoreCount int64 `json:"moreCount,omitempty"`
}

type Subreddit struct {
	Name            string    `json:"name"`
	Title           string    `json:"title"`
	DescriptionHTML string    `json:"descriptionHtml,omitempty"`
	Icon            string    `json:"icon,omitempty"`
	Members         int64     `json:"members"`
	Active          int64     `json:"active"`
	NSFW            bool      `json:"nsfw"`
	CreatedAt       time.Time `json:"createdAt"`
}
