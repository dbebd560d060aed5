package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/whyrusleeping/tansu/feeds"
	"github.com/whyrusleeping/tansu/viewdb"
)

func (s *Server) runApiServer(bind string) error {
	e := echo.New()
	e.Use(middleware.CORS())
	e.HTTPErrorHandler = s.handleError

	e.POST("/fill", s.handleFillMessages)
	e.POST("/banlist", s.handleApplyBanList)
	e.POST("/rooms", s.handleAddRoom)

	api := e.Group("/api")
	api.GET("/stats", s.handleGetStats)
	api.GET("/cursor", s.handleGetCursor)
	api.GET("/feed/:author", s.handleGetFeed)
	api.GET("/post/:key", s.handleGetPost)
	api.GET("/thread/:key", s.handleGetThread)
	api.GET("/profile/:author", s.handleGetProfile)
	api.GET("/graph/follows/:author", s.graphHandler(s.db.Follows))
	api.GET("/graph/followers/:author", s.graphHandler(s.db.FollowedBy))
	api.GET("/graph/blocks/:author", s.graphHandler(s.db.Blocks))
	api.GET("/graph/blockers/:author", s.graphHandler(s.db.BlockedBy))
	api.GET("/graph/friends/:author", s.graphHandler(s.db.BidirectionalFollows))
	api.GET("/timeline/:strategy", s.handleGetTimeline)
	api.GET("/hashtags/:strategy", s.handleGetHashtags)
	api.GET("/hashtag/:name", s.handleGetHashtag)
	api.GET("/mentions", s.handleGetMentions)
	api.GET("/reports", s.handleGetReports)
	api.GET("/reports/unread", s.handleCountUnreadReports)
	api.POST("/reports/read/:key", s.handleMarkRead)
	api.GET("/rooms/aliases", s.handleGetAliases)

	return e.Start(bind)
}

func (s *Server) handleError(err error, c echo.Context) {
	switch {
	case errors.Is(err, viewdb.ErrUnknownMessage), errors.Is(err, viewdb.ErrUnknownAuthor):
		c.JSON(404, map[string]any{"error": err.Error()})
	default:
		c.Echo().DefaultHTTPErrorHandler(err, c)
	}
}

type fillMessage struct {
	Key         string          `json:"key"`
	Author      string          `json:"author"`
	Sequence    int64           `json:"sequence"`
	Claimed     time.Time       `json:"claimed"`
	ReceivedSeq int64           `json:"receivedSeq"`
	Content     json.RawMessage `json:"content"`
}

func (s *Server) handleFillMessages(e echo.Context) error {
	var in []fillMessage
	if err := e.Bind(&in); err != nil {
		return echo.NewHTTPError(400, err.Error())
	}

	batch := make([]viewdb.LogMessage, len(in))
	for i, m := range in {
		batch[i] = viewdb.LogMessage{
			Key:         m.Key,
			Author:      m.Author,
			Sequence:    m.Sequence,
			Claimed:     m.Claimed,
			ReceivedSeq: m.ReceivedSeq,
			Content:     m.Content,
		}
	}

	if err := s.db.FillMessages(batch); err != nil {
		return err
	}

	return e.JSON(200, map[string]any{"filled": len(batch)})
}

func (s *Server) handleApplyBanList(e echo.Context) error {
	var hashes []string
	if err := e.Bind(&hashes); err != nil {
		return echo.NewHTTPError(400, err.Error())
	}

	banned, unbanned, err := s.db.ApplyBanList(hashes)
	if err != nil {
		return err
	}

	return e.JSON(200, map[string]any{
		"banned":   banned,
		"unbanned": unbanned,
	})
}

func (s *Server) handleAddRoom(e echo.Context) error {
	var in struct {
		Key     string `json:"key"`
		Address string `json:"address"`
	}
	if err := e.Bind(&in); err != nil {
		return echo.NewHTTPError(400, err.Error())
	}

	if err := s.db.AddRoom(in.Key, in.Address); err != nil {
		return err
	}
	return e.NoContent(204)
}

func (s *Server) handleGetStats(e echo.Context) error {
	stats, err := s.db.Stats()
	if err != nil {
		return err
	}

	if since := e.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(400, "bad since timestamp")
		}
		n, err := s.db.MessageCount(t)
		if err != nil {
			return err
		}
		return e.JSON(200, map[string]any{"stats": stats, "messagesSince": n})
	}

	return e.JSON(200, stats)
}

func (s *Server) handleGetCursor(e echo.Context) error {
	cur, err := s.db.Cursor()
	if err != nil {
		return err
	}
	return e.JSON(200, map[string]any{
		"receiveLog":   cur.ReceiveLog,
		"published":    cur.Published,
		"notPublished": cur.NotPublished,
		"replayFrom":   cur.ReplayFrom(),
	})
}

func (s *Server) handleGetFeed(e echo.Context) error {
	msgs, err := s.db.Feed(e.Param("author"))
	if err != nil {
		return err
	}
	return e.JSON(200, msgs)
}

func (s *Server) handleGetPost(e echo.Context) error {
	m, err := s.db.Post(e.Param("key"))
	if err != nil {
		return err
	}
	return e.JSON(200, m)
}

func (s *Server) handleGetThread(e echo.Context) error {
	root, err := s.db.Post(e.Param("key"))
	if err != nil {
		return err
	}

	replies, err := s.db.RepliesTo(root.Key)
	if err != nil {
		return err
	}

	return e.JSON(200, map[string]any{
		"root":    root,
		"replies": replies,
	})
}

func (s *Server) handleGetProfile(e echo.Context) error {
	about, err := s.db.CurrentAbout(e.Param("author"))
	if err != nil {
		return err
	}
	return e.JSON(200, about)
}

func (s *Server) graphHandler(q func(string) ([]string, error)) echo.HandlerFunc {
	return func(e echo.Context) error {
		keys, err := q(e.Param("author"))
		if err != nil {
			return err
		}
		return e.JSON(200, keys)
	}
}

func (s *Server) strategyByName(name string) (feeds.Strategy, error) {
	switch name {
	case "posts":
		return feeds.Posts{DB: s.db, OnlyFollowed: true}, nil
	case "discover":
		return feeds.Posts{DB: s.db}, nil
	case "postsandcontacts":
		return feeds.PostsAndContacts{DB: s.db}, nil
	case "recentlyactive":
		return feeds.RecentlyActive{DB: s.db}, nil
	default:
		return nil, echo.NewHTTPError(400, fmt.Sprintf("unknown feed strategy: %q", name))
	}
}

func (s *Server) handleGetTimeline(e echo.Context) error {
	ctx := e.Request().Context()

	strat, err := s.strategyByName(e.Param("strategy"))
	if err != nil {
		return err
	}

	viewer := e.QueryParam("viewer")
	if viewer == "" {
		viewer = s.db.Identity()
	}

	if since := e.QueryParam("since"); since != "" {
		n, err := strat.CountSince(ctx, viewer, since)
		if err != nil {
			return err
		}
		return e.JSON(200, map[string]any{"newer": n})
	}

	keys, err := strat.CandidateKeys(ctx, viewer)
	if err != nil {
		return err
	}

	limit := 50
	if len(keys) > limit {
		keys = keys[:limit]
	}

	msgs, err := s.db.MessagesByKeys(keys)
	if err != nil {
		return err
	}
	return e.JSON(200, msgs)
}

func (s *Server) handleGetHashtags(e echo.Context) error {
	ctx := e.Request().Context()

	var strat feeds.HashtagStrategy
	switch e.Param("strategy") {
	case "popular":
		strat = feeds.PopularHashtags{DB: s.db}
	case "recent":
		strat = feeds.RecentHashtags{DB: s.db}
	default:
		return echo.NewHTTPError(400, "unknown hashtag strategy")
	}

	tags, err := strat.Hashtags(ctx)
	if err != nil {
		return err
	}
	return e.JSON(200, tags)
}

func (s *Server) handleGetHashtag(e echo.Context) error {
	msgs, err := s.db.MessagesForHashtag(e.Param("name"))
	if err != nil {
		return err
	}
	return e.JSON(200, msgs)
}

func (s *Server) handleGetMentions(e echo.Context) error {
	msgs, err := s.db.Mentions()
	if err != nil {
		return err
	}
	return e.JSON(200, msgs)
}

func (s *Server) handleGetReports(e echo.Context) error {
	reports, err := s.db.Reports()
	if err != nil {
		return err
	}
	return e.JSON(200, reports)
}

func (s *Server) handleCountUnreadReports(e echo.Context) error {
	n, err := s.db.CountUnreadReports()
	if err != nil {
		return err
	}
	return e.JSON(200, map[string]any{"unread": n})
}

func (s *Server) handleMarkRead(e echo.Context) error {
	if err := s.db.MarkMessageAsRead(e.Param("key")); err != nil {
		return err
	}
	return e.NoContent(204)
}

func (s *Server) handleGetAliases(e echo.Context) error {
	if room := e.QueryParam("room"); room != "" {
		aliases, err := s.db.AliasesForRoom(room)
		if err != nil {
			return err
		}
		return e.JSON(200, aliases)
	}

	aliases, err := s.db.RegisteredAliases()
	if err != nil {
		return err
	}
	return e.JSON(200, aliases)
}
