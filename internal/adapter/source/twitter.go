package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/domain/trend"
)

// TwitterConfig contains configuration for the Twitter post source.
type TwitterConfig struct {
	BearerToken string
	SearchTerms []string
	MaxResults  int
}

type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Add("Authorization", "Bearer "+a.token)
}

// TwitterSource fetches recent posts from the Twitter v2 recent search API
// and maps them into post bundles with author and engagement data attached.
type TwitterSource struct {
	client *twitter.Client
	config TwitterConfig
	logger *logrus.Entry
}

// NewTwitterSource creates a new Twitter post source.
func NewTwitterSource(config TwitterConfig, logger *logrus.Entry) (*TwitterSource, error) {
	if config.BearerToken == "" {
		return nil, fmt.Errorf("twitter bearer token not configured")
	}
	if len(config.SearchTerms) == 0 {
		return nil, fmt.Errorf("no twitter search terms configured")
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 100
	}

	client := &twitter.Client{
		Authorizer: bearerAuthorizer{token: config.BearerToken},
		Client:     &http.Client{Timeout: 15 * time.Second},
		Host:       "https://api.twitter.com",
	}

	return &TwitterSource{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// FetchRecent collects recent posts matching the configured search terms.
// Retweets and replies are excluded so clusters form over original content.
func (s *TwitterSource) FetchRecent(ctx context.Context) ([]trend.PostBundle, error) {
	query := s.buildQuery()

	opts := twitter.TweetRecentSearchOpts{
		MaxResults: s.config.MaxResults,
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldAuthorID,
			twitter.TweetFieldPublicMetrics,
		},
		UserFields: []twitter.UserField{
			twitter.UserFieldUserName,
			twitter.UserFieldName,
			twitter.UserFieldPublicMetrics,
		},
		Expansions: []twitter.Expansion{
			twitter.ExpansionAuthorID,
		},
	}

	resp, err := s.client.TweetRecentSearch(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("error searching tweets: %w", err)
	}

	users := make(map[string]*twitter.UserObj)
	if resp.Raw.Includes != nil {
		for _, u := range resp.Raw.Includes.Users {
			users[u.ID] = u
		}
	}

	now := time.Now()
	bundles := make([]trend.PostBundle, 0, len(resp.Raw.Tweets))
	for _, tweet := range resp.Raw.Tweets {
		user := users[tweet.AuthorID]
		if user == nil {
			s.logger.WithField("tweet_id", tweet.ID).Warn("Tweet missing author expansion, skipping")
			continue
		}

		bundle := trend.PostBundle{
			Post: trend.Post{
				ExternalID:  tweet.ID,
				Content:     tweet.Text,
				PublishedAt: parseTweetTime(tweet.CreatedAt, now),
			},
			Author: trend.Author{
				Username:    user.UserName,
				DisplayName: user.Name,
				ProfileURL:  "https://twitter.com/" + user.UserName,
			},
		}
		if user.PublicMetrics != nil {
			bundle.Author.FollowerCount = user.PublicMetrics.Followers
		}
		if tweet.PublicMetrics != nil {
			bundle.Engagement = trend.EngagementSnapshot{
				Timestamp:    now,
				LikeCount:    tweet.PublicMetrics.Likes,
				CommentCount: tweet.PublicMetrics.Replies,
				RepostCount:  tweet.PublicMetrics.Retweets,
			}
		}
		bundles = append(bundles, bundle)
	}

	s.logger.WithFields(logrus.Fields{
		"query": query,
		"posts": len(bundles),
	}).Info("Fetched recent posts")

	return bundles, nil
}

func (s *TwitterSource) buildQuery() string {
	terms := make([]string, 0, len(s.config.SearchTerms))
	for _, term := range s.config.SearchTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.Contains(term, " ") {
			term = strconv.Quote(term)
		}
		terms = append(terms, term)
	}
	return "(" + strings.Join(terms, " OR ") + ") -is:retweet -is:reply lang:en"
}

func parseTweetTime(value string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fallback
	}
	return t
}
