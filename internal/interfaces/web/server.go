package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"alphawatch/internal/application/port"
	"alphawatch/internal/application/usecase/monitor"
	"alphawatch/internal/domain/model"
)

const (
	DefaultModelURLBase = "https://nof1.ai/models/"

	defaultEventLimit = 50
	maxEventLimit     = 500
	shutdownTimeout   = 5 * time.Second
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"money": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	"price": func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) },
	"sign": func(v float64) string {
		switch {
		case v > 0:
			return "pos"
		case v < 0:
			return "neg"
		}
		return "zero"
	},
}).ParseFS(templateFS, "templates/index.html"))

type Options struct {
	Reader port.SnapshotReader
	// Events backs /api/events; nil disables the route.
	Events port.EventLister
	// Status backs /healthz details when the monitor runs in-process.
	Status         func() monitor.Status
	Hub            *Hub
	RefreshSeconds int
	ModelURLBase   string
	Logger         zerolog.Logger
}

// Server is the read-only dashboard. It never writes a slot.
type Server struct {
	opts   Options
	engine *gin.Engine
	log    zerolog.Logger
}

func NewServer(opts Options) *Server {
	if opts.RefreshSeconds <= 0 {
		opts.RefreshSeconds = 15
	}
	if opts.ModelURLBase == "" {
		opts.ModelURLBase = DefaultModelURLBase
	}
	s := &Server{opts: opts, log: opts.Logger.With().Str("component", "dashboard").Logger()}

	e := gin.New()
	e.Use(gin.Recovery(), s.accessLog())
	e.SetHTMLTemplate(pageTemplate)
	e.GET("/", s.index)
	e.GET("/healthz", s.health)

	api := e.Group("/api")
	{
		api.GET("/snapshot", s.snapshot)
		if opts.Events != nil {
			api.GET("/events", s.events)
		}
	}
	if opts.Hub != nil {
		e.GET("/ws", gin.WrapH(opts.Hub))
	}
	s.engine = e
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.opts.Hub != nil {
		_ = s.opts.Hub.Close()
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// loadPrevious 读取 previous 槽位；失败时已写好响应
func (s *Server) loadPrevious(c *gin.Context) (*model.Snapshot, bool) {
	snap, err := s.opts.Reader.ReadPrevious(c.Request.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("previous snapshot unreadable")
		c.String(http.StatusServiceUnavailable, "snapshot is being updated, try again shortly")
		return nil, false
	}
	if snap == nil {
		c.String(http.StatusNotFound, "no snapshot recorded yet")
		return nil, false
	}
	return snap, true
}

func (s *Server) snapshot(c *gin.Context) {
	snap, ok := s.loadPrevious(c)
	if !ok {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) events(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	recs, err := s.opts.Events.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("recent events query failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	if recs == nil {
		recs = []model.EventRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"events": recs})
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "timestamp": time.Now().Unix()}
	if s.opts.Status != nil {
		body["monitor"] = s.opts.Status()
	}
	if s.opts.Hub != nil {
		body["ws_clients"] = s.opts.Hub.Clients()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) index(c *gin.Context) {
	snap, ok := s.loadPrevious(c)
	if !ok {
		return
	}
	lang := "zh"
	if strings.EqualFold(c.Query("lang"), "en") {
		lang = "en"
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	page := buildPage(snap, lang, s.opts.ModelURLBase)
	page.Refresh = s.opts.RefreshSeconds
	page.Size = len(data)
	page.Live = s.opts.Hub != nil
	page.T = translations(lang, s.opts.RefreshSeconds)

	c.HTML(http.StatusOK, "index.html", page)
}

type pageView struct {
	Lang     string
	Toggle   string
	T        map[string]string
	Refresh  int
	DataTime string
	Size     int
	Live     bool
	Models   []modelView
}

type modelView struct {
	ID         string
	URL        string
	Realized   float64
	Unrealized float64
	Total      float64
	Rows       []rowView
}

type rowView struct {
	Symbol        string
	Held          bool
	Quantity      string
	Leverage      int
	EntryPrice    float64
	CurrentPrice  float64
	Margin        float64
	UnrealizedPnL float64
	ClosedPnL     float64
	ProfitTarget  string
	StopLoss      string
	EntryTime     string
}

// buildPage lays out every model against the union of symbols so the tables line up.
func buildPage(snap *model.Snapshot, lang, modelURLBase string) pageView {
	p := pageView{Lang: lang, Toggle: "en", DataTime: "-"}
	if lang == "en" {
		p.Toggle = "zh"
	}
	if !snap.FetchedAt.IsZero() {
		p.DataTime = snap.FetchedAt.Local().Format(time.DateTime)
	}

	models := append([]model.ModelPosition(nil), snap.Models...)
	sort.SliceStable(models, func(i, j int) bool { return models[i].RealizedPnL > models[j].RealizedPnL })

	symSet := map[string]struct{}{}
	for _, m := range models {
		for sym := range m.Positions {
			symSet[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(symSet))
	for sym := range symSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, m := range models {
		mv := modelView{
			ID:         m.ID,
			URL:        strings.TrimRight(modelURLBase, "/") + "/" + m.ID,
			Realized:   m.RealizedPnL,
			Unrealized: m.UnrealizedPnL(),
		}
		mv.Total = mv.Realized + mv.Unrealized
		for _, sym := range symbols {
			pos, ok := m.Positions[sym]
			if !ok {
				mv.Rows = append(mv.Rows, rowView{Symbol: sym})
				continue
			}
			mv.Rows = append(mv.Rows, positionRow(sym, pos))
		}
		p.Models = append(p.Models, mv)
	}
	return p
}

func positionRow(sym string, pos model.Position) rowView {
	r := rowView{
		Symbol:        sym,
		Held:          true,
		Quantity:      pos.Quantity.String(),
		Leverage:      pos.Leverage,
		EntryPrice:    pos.EntryPrice,
		CurrentPrice:  pos.CurrentPrice,
		Margin:        pos.Margin,
		UnrealizedPnL: pos.UnrealizedPnL,
		ClosedPnL:     pos.ClosedPnL,
		EntryTime:     "-",
	}
	if pos.ExitPlan != nil {
		r.ProfitTarget = plain(pos.ExitPlan.ProfitTarget)
		r.StopLoss = plain(pos.ExitPlan.StopLoss)
	}
	if pos.EntryTime != nil {
		r.EntryTime = pos.EntryTime.Local().Format(time.DateTime)
	}
	return r
}

func plain(v float64) string {
	if v == 0 || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func translations(lang string, refresh int) map[string]string {
	if lang == "en" {
		return map[string]string{
			"title":        "Alpha Arena Positions Monitor",
			"data_time":    "Data Time",
			"auto_refresh": "Auto refresh every " + strconv.Itoa(refresh) + "s",
			"delay":        "Note: ~1 minute delay vs. official site",
			"model":        "Model",
			"rpnl":         "Realized PnL",
			"urpnl":        "Unrealized PnL",
			"tpnl":         "Total PnL",
			"pair":         "Pair",
			"qty":          "Qty",
			"lev":          "Lev",
			"entry":        "Entry",
			"price":        "Price",
			"margin":       "Margin",
			"upnl":         "U-PnL",
			"cpnl":         "C-PnL",
			"tp":           "TP",
			"sl":           "SL",
			"entry_time":   "Entry Time",
			"size":         "Size",
			"bytes":        "bytes",
			"toggle":       "中文",
			"disclaimer":   "Disclaimer: for learning and research only, not investment advice. All trading decisions are at your own risk.",
		}
	}
	return map[string]string{
		"title":        "Alpha Arena 持仓监控",
		"data_time":    "数据时间",
		"auto_refresh": "自动每" + strconv.Itoa(refresh) + "秒刷新",
		"delay":        "提示：与官网数据存在约1分钟延时",
		"model":        "模型",
		"rpnl":         "已实现盈亏",
		"urpnl":        "未实现盈亏",
		"tpnl":         "总盈亏",
		"pair":         "合约对",
		"qty":          "数量",
		"lev":          "杠杆",
		"entry":        "开仓价",
		"price":        "当前价",
		"margin":       "保证金",
		"upnl":         "浮动盈亏",
		"cpnl":         "平仓盈亏",
		"tp":           "止盈",
		"sl":           "止损",
		"entry_time":   "进入时间",
		"size":         "大小",
		"bytes":        "字节",
		"toggle":       "English",
		"disclaimer":   "声明：本网站仅供学习和研究使用，不构成投资建议。所有交易决策由用户自行承担风险。",
	}
}
