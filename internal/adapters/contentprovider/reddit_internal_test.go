package contentprovider

import (
	"os"
	"testing"
	"time"

	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestParseContent(t *testing.T) {
	t.Parallel()

	t.Run("listing", func(t *testing.T) {
		t.Parallel()

		content, err := parseContent(domain.KindListing, readFixture(t, "listing.json"))
		require.NoError(t, err)
		require.Equal(t, domain.KindListing, content.Kind)
		require.NotNil(t, content.Listing)

		listing := content.Listing
		require.Equal(t, "t3_next", listing.After)
		require.Equal(t, "", listing.Before)
		require.Len(t, listing.Posts, 3)

		video := listing.Posts[0]
		require.Equal(t, domain.PostTypeVideo, video.Type)
		require.Equal(t, domain.Media{
			URL:    "/vid/vid123/720.mp4",
			AltURL: "/hls/vid123/HLSPlaylist.m3u8?a=1",
			Width:  1280,
			Height: 720,
			Poster: domain.Image{
				URL:    "/preview/external-pre/poster.png?width=640&s=sig",
				Width:  640,
				Height: 360,
			},
		}, video.Media)
		require.Equal(t, domain.Image{URL: "/thumb/b/thumb.jpg", Width: 140, Height: 78}, video.Thumbnail)
		require.Equal(t, domain.Flair{Text: "Discussion", BackgroundColor: "#00ff00", ForegroundColor: "black"}, video.Flair)
		require.Equal(t, domain.Flair{Text: "Contributor", BackgroundColor: "#ff0000", ForegroundColor: "light"}, video.AuthorFlair)
		require.True(t, video.Stickied, "pinned posts are stickied")
		require.Equal(t, time.Unix(1700000000, 500_000_000).UTC(), video.CreatedAt)
		require.Equal(t, 0.97, video.UpvoteRatio)
		require.Equal(t, int64(42), video.Score)
		require.Equal(t, int64(7), video.CommentCount)

		self := listing.Posts[1]
		require.Equal(t, domain.PostTypeSelf, self.Type)
		require.Equal(t, "/r/golang/comments/def456/a_self_post/", self.Media.URL)
		require.Contains(t, self.BodyHTML, `href="/r/rust"`)
		require.NotContains(t, self.BodyHTML, "script")
		require.NotContains(t, self.BodyHTML, "alert")
		require.Equal(t, 1.0, self.UpvoteRatio)
		require.True(t, self.NSFW)
		require.Equal(t, "", self.Thumbnail.URL)
		require.Equal(t, domain.Flair{}, self.Flair)
		require.Equal(t, []domain.Award{
			{
				Name:        "Helpful",
				IconURL:     "/img/award_images/t5_22cerq/16.png",
				Description: "Thank you stranger. Shows the award.",
				Count:       2,
			},
			{Name: "Wholesome", Count: 1},
		}, self.Awards)
		require.Nil(t, video.Awards)

		removed := listing.Posts[2]
		require.Equal(t, removedBodyHTML, removed.BodyHTML)
		require.Equal(t, domain.PostTypeLink, removed.Type)
		require.Equal(t, "https://example.com/article", removed.Media.URL)
	})

	t.Run("thread", func(t *testing.T) {
		t.Parallel()

		content, err := parseContent(domain.KindThread, readFixture(t, "thread.json"))
		require.NoError(t, err)
		require.NotNil(t, content.Thread)

		post := content.Thread.Post
		require.Equal(t, domain.PostTypeGallery, post.Type)
		require.Equal(t, "/gallery/gal001", post.Media.URL)
		require.Equal(t, []domain.GalleryItem{
			{
				URL:         "/preview/pre/m1.jpg?width=800&s=x",
				Width:       800,
				Height:      600,
				Caption:     "first",
				OutboundURL: "https://example.com",
			},
			{
				URL:    "/img/m2.gif",
				Width:  320,
				Height: 240,
			},
		}, post.Gallery)

		require.NotNil(t, post.Poll)
		require.Equal(t, int64(12), post.Poll.TotalVotes)
		require.Equal(t, time.UnixMilli(1700100000000).UTC(), post.Poll.VotingEndsAt)
		require.Len(t, post.Poll.Options, 2)
		require.NotNil(t, post.Poll.Options[0].Votes)
		require.Equal(t, int64(10), *post.Poll.Options[0].Votes)
		require.Nil(t, post.Poll.Options[1].Votes)

		comments := content.Thread.Comments
		require.Len(t, comments, 1)
		top := comments[0]
		require.Equal(t, "c1", top.ID)
		require.Equal(t, "moderator", top.Distinguished)
		require.True(t, top.Stickied)
		require.Equal(t, int64(4), top.MoreCount)
		require.Len(t, top.Replies, 1)

		reply := top.Replies[0]
		require.Equal(t, "c2", reply.ID)
		require.Equal(t, 1, reply.Depth)
		require.Equal(t, "", reply.Distinguished)
		require.Nil(t, reply.Replies)
		require.Contains(t, reply.BodyHTML, "reply")
	})

	t.Run("subreddit about", func(t *testing.T) {
		t.Parallel()

		content, err := parseContent(domain.KindSubredditInfo, readFixture(t, "subreddit_about.json"))
		require.NoError(t, err)
		require.NotNil(t, content.Subreddit)

		subreddit := content.Subreddit
		require.Equal(t, "golang", subreddit.Name)
		require.Equal(t, "/style/t5_2rc7j/styles/communityIcon_x.png?width=256&s=y", subreddit.Icon)
		require.Equal(t, int64(250000), subreddit.Members)
		require.Equal(t, int64(321), subreddit.Active)
		require.Contains(t, subreddit.DescriptionHTML, `href="/r/golang/wiki"`)
		require.Equal(t, time.Unix(1194563136, 0).UTC(), subreddit.CreatedAt)
	})

	t.Run("user about", func(t *testing.T) {
		t.Parallel()

		content, err := parseContent(domain.KindUserInfo, readFixture(t, "user_about.json"))
		require.NoError(t, err)
		require.Equal(t, &domain.User{
			Name:        "gopher",
			Title:       "Gopher",
			Icon:        "/style/t5_1/styles/profileIcon.png",
			Description: "I like Go",
			Karma:       1234,
			CreatedAt:   time.Unix(1500000000, 0).UTC(),
		}, content.User)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name string
			kind domain.ContentKind
			body string
		}{
			{"not json", domain.KindListing, "<html>blocked</html>"},
			{"wrong listing kind", domain.KindListing, `{"kind":"t3","data":{}}`},
			{"thread is not an array", domain.KindThread, `{"kind":"Listing","data":{}}`},
			{"thread with one listing", domain.KindThread, `[{"kind":"Listing","data":{"children":[]}}]`},
			{"thread without post", domain.KindThread, `[{"kind":"Listing","data":{"children":[]}},{"kind":"Listing","data":{"children":[]}}]`},
			{"subreddit about with user", domain.KindSubredditInfo, `{"kind":"t2","data":{}}`},
			{"user about with subreddit", domain.KindUserInfo, `{"kind":"t5","data":{}}`},
			{"bad child", domain.KindListing, `{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"score":"many"}}]}}`},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				t.Parallel()
				_, err := parseContent(c.kind, []byte(c.body))
				require.Error(t, err)
			})
		}
	})

	t.Run("empty listing", func(t *testing.T) {
		t.Parallel()

		content, err := parseContent(domain.KindSearch, []byte(`{"kind":"Listing","data":{"after":null,"children":[]}}`))
		require.NoError(t, err)
		require.Equal(t, []domain.Post{}, content.Listing.Posts)
	})

	t.Run("user overview mixes comments and posts", func(t *testing.T) {
		t.Parallel()

		body := `{"kind":"Listing","data":{"children":[
			{"kind":"t1","data":{"id":"c9","author":"gopher","body_html":"<p>hi</p>","replies":""}},
			{"kind":"t3","data":{"id":"p9","title":"post","url":"https://i.redd.it/x.png","domain":"i.redd.it"}}
		]}}`
		content, err := parseContent(domain.KindUserListing, []byte(body))
		require.NoError(t, err)
		require.Len(t, content.Listing.Posts, 1)
		require.Equal(t, domain.PostTypeImage, content.Listing.Posts[0].Type)
		require.Equal(t, "/img/x.png", content.Listing.Posts[0].Media.URL)
		require.Len(t, content.Listing.Comments, 1)
		require.Equal(t, "c9", content.Listing.Comments[0].ID)
	})
}

func TestClassifyMedia(t *testing.T) {
	t.Parallel()

	image := func(url string) *redditPreview {
		return &redditPreview{Images: []redditPreviewImage{{Source: redditImageSource{URL: url, Width: 10, Height: 20}}}}
	}

	t.Run("preview video wins over everything", func(t *testing.T) {
		t.Parallel()
		post := redditPost{
			IsSelf:  true,
			Preview: &redditPreview{RedditVideoPreview: &redditVideo{FallbackURL: "https://v.redd.it/a/DASH_480.mp4", IsGif: true}},
		}
		postType, media, _ := parseMedia(post)
		require.Equal(t, domain.PostTypeGif, postType)
		require.Equal(t, "/vid/a/480.mp4", media.URL)
	})

	t.Run("crosspost video", func(t *testing.T) {
		t.Parallel()
		post := redditPost{
			CrosspostParentList: []redditPost{{
				SecureMedia: &redditSecureMedia{RedditVideo: &redditVideo{FallbackURL: "https://v.redd.it/b/DASH_1080.mp4"}},
			}},
		}
		postType, media, _ := parseMedia(post)
		require.Equal(t, domain.PostTypeVideo, postType)
		require.Equal(t, "/vid/b/1080.mp4", media.URL)
	})

	t.Run("image hint uses preview source off i.redd.it", func(t *testing.T) {
		t.Parallel()
		post := redditPost{
			PostHint: "image",
			Domain:   "imgur.com",
			URL:      "https://imgur.com/x.png",
			Preview:  image("https://preview.redd.it/x.png?s=1"),
		}
		postType, media, _ := parseMedia(post)
		require.Equal(t, domain.PostTypeImage, postType)
		require.Equal(t, "/preview/pre/x.png?s=1", media.URL)
		require.Equal(t, int64(10), media.Width)
		require.Equal(t, int64(20), media.Height)
	})

	t.Run("image hint uses url on i.redd.it", func(t *testing.T) {
		t.Parallel()
		post := redditPost{
			PostHint: "image",
			Domain:   "i.redd.it",
			URL:      "https://i.redd.it/y.jpg",
			Preview:  image("https://preview.redd.it/y.jpg?s=1"),
		}
		_, media, _ := parseMedia(post)
		require.Equal(t, "/img/y.jpg", media.URL)
	})

	t.Run("image hint with mp4 variant is a gif", func(t *testing.T) {
		t.Parallel()
		preview := image("https://preview.redd.it/z.gif")
		preview.Images[0].Variants.MP4 = &struct {
			Source redditImageSource `json:"source"`
		}{Source: redditImageSource{URL: "https://preview.redd.it/z.gif?format=mp4"}}
		post := redditPost{PostHint: "image", Preview: preview}

		postType, media, _ := parseMedia(post)
		require.Equal(t, domain.PostTypeGif, postType)
		require.Equal(t, "/preview/pre/z.gif?format=mp4", media.URL)
	})

	t.Run("external link", func(t *testing.T) {
		t.Parallel()
		post := redditPost{URL: "https://go.dev/blog", Domain: "go.dev"}
		postType, media, gallery := parseMedia(post)
		require.Equal(t, domain.PostTypeLink, postType)
		require.Equal(t, "https://go.dev/blog", media.URL)
		require.Nil(t, gallery)
	})
}
