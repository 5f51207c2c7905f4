package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"voltra/internal/analysis"
	"voltra/internal/logger"
	"voltra/internal/order"
	"voltra/internal/pkg/ratelimit"
	"voltra/internal/portfolio"
	"voltra/internal/sentiment"
	"voltra/internal/slippage"
	"voltra/internal/store/decisionlog"
)

// Router 暴露情绪摄入与状态查询接口。
type Router struct {
	portfolios *portfolio.Manager
	orders     *order.Manager
	slippage   *slippage.Tracker
	sentiment  *sentiment.Aggregator
	analysis   *analysis.Service
	decisions  *decisionlog.Store
	limiter    *ratelimit.Limiter
}

// NewRouter 构造 API router。
func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		portfolios: cfg.Portfolios,
		orders:     cfg.Orders,
		slippage:   cfg.Slippage,
		sentiment:  cfg.Sentiment,
		analysis:   cfg.Analysis,
		decisions:  cfg.Decisions,
		limiter:    cfg.Limiter,
	}
}

// Register 将 /api/v1 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.sentiment != nil {
		group.POST("/sentiment", r.handleSentimentIngest)
		group.GET("/sentiment/:symbol", r.handleSentimentSnapshot)
	}
	if r.portfolios != nil {
		group.GET("/portfolios", r.handlePortfolios)
		group.GET("/portfolios/:id", r.handlePortfolioByID)
	}
	if r.orders != nil {
		group.GET("/orders/active", r.handleActiveOrders)
		group.GET("/orders/history", r.handleOrderHistory)
	}
	if r.slippage != nil {
		group.GET("/slippage", r.handleSlippageOverview)
		group.GET("/slippage/:symbol", r.handleSlippageStats)
	}
	if r.decisions != nil {
		group.GET("/decisions", r.handleDecisions)
	}
	if r.analysis != nil {
		group.GET("/analysis/:symbol", r.handleAnalysis)
	}
}

func (r *Router) handleSentimentSnapshot(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	snap := r.sentiment.Latest(symbol)
	resp := gin.H{"snapshot": snap}
	if parseBoolDefaultFalse(c.Query("history")) {
		resp["history"] = r.sentiment.History(symbol)
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handlePortfolios(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"portfolios": r.portfolios.List()})
}

func (r *Router) handlePortfolioByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	p, err := r.portfolios.Get(id)
	if err != nil {
		logger.Warnf("[api] portfolio detail not found ip=%s id=%s", c.ClientIP(), id)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": p})
}

func (r *Router) handleActiveOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.orders.Active()})
}

func (r *Router) handleOrderHistory(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "orders": r.orders.History(symbol)})
}

func (r *Router) handleSlippageOverview(c *gin.Context) {
	symbols := r.slippage.Symbols()
	stats := make(map[string]slippage.Stats, len(symbols))
	for _, s := range symbols {
		stats[s] = r.slippage.Stats(s)
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols, "stats": stats})
}

func (r *Router) handleSlippageStats(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "stats": r.slippage.Stats(symbol)})
}

func (r *Router) handleDecisions(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	recs, err := r.decisions.Recent(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Errorf("[api] decisions query failed ip=%s symbol=%s err=%v", c.ClientIP(), symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs})
}

func (r *Router) handleAnalysis(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	snap, ok := r.analysis.Latest(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analysis snapshot for " + symbol})
		return
	}
	resp := gin.H{"snapshot": snap}
	if parseBoolDefaultFalse(c.Query("history")) {
		resp["history"] = r.analysis.History(symbol)
	}
	c.JSON(http.StatusOK, resp)
}

func parseBoolDefaultFalse(val string) bool {
	s := strings.TrimSpace(strings.ToLower(val))
	return s == "1" || s == "true" || s == "yes"
}
