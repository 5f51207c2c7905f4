package apihttp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"voltra/internal/logger"
	"voltra/internal/sentiment"
)

const sentimentRateCategory = "sentiment"

// 摄入 payload 的结构校验。单条与批量共用同一条目 schema。
const observationSchemaJSON = `{
  "type": "object",
  "required": ["source", "symbol", "sentiment", "confidence"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "symbol": {"type": "string", "minLength": 1},
    "sentiment": {"type": "number", "minimum": -1, "maximum": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "timestamp": {"type": "string"},
    "text": {"type": "string"},
    "url": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

var observationSchema = mustCompileSchema(observationSchemaJSON)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("observation.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("observation.json")
}

const maxIngestBody = 1 << 20 // 1MB

// handleSentimentIngest 接收外部情绪推送。请求体可以是单条观测，也可以是
// {"observations": [...]} 批量形式。校验通过的条目逐条进入聚合器，校验失败
// 的条目整批拒绝。
func (r *Router) handleSentimentIngest(c *gin.Context) {
	if r.limiter != nil {
		res := r.limiter.Check(sentimentRateCategory, c.ClientIP())
		if !res.Allowed {
			c.Header("Retry-After", res.ResetAt.UTC().Format(http.TimeFormat))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "rate limit exceeded",
				"reset_at": res.ResetAt,
			})
			return
		}
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !gjson.ValidBytes(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体不是合法 JSON"})
		return
	}

	parsed := gjson.ParseBytes(raw)
	items := []gjson.Result{parsed}
	if batch := parsed.Get("observations"); batch.IsArray() {
		items = batch.Array()
	}

	obs := make([]sentiment.Observation, 0, len(items))
	for i, item := range items {
		var decoded any
		if err := json.Unmarshal([]byte(item.Raw), &decoded); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
		if err := observationSchema.Validate(decoded); err != nil {
			logger.Warnf("[api] sentiment payload rejected ip=%s index=%d err=%v", c.ClientIP(), i, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
		obs = append(obs, observationFrom(item))
	}

	accepted := 0
	for _, o := range obs {
		if err := r.sentiment.Ingest(o); err != nil {
			logger.Warnf("[api] sentiment ingest rejected ip=%s symbol=%s err=%v", c.ClientIP(), o.Symbol, err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "accepted": accepted})
			return
		}
		accepted++
	}
	logger.Debugf("[api] sentiment ingest ip=%s accepted=%d", c.ClientIP(), accepted)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": accepted})
}

func observationFrom(item gjson.Result) sentiment.Observation {
	o := sentiment.Observation{
		Source:     item.Get("source").String(),
		Symbol:     strings.ToUpper(strings.TrimSpace(item.Get("symbol").String())),
		Sentiment:  item.Get("sentiment").Float(),
		Confidence: item.Get("confidence").Float(),
		Text:       item.Get("text").String(),
		URL:        item.Get("url").String(),
	}
	if ts := item.Get("timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			o.Timestamp = parsed
		}
	}
	if meta := item.Get("metadata"); meta.IsObject() {
		m := map[string]any{}
		if err := json.Unmarshal([]byte(meta.Raw), &m); err == nil {
			o.Metadata = m
		}
	}
	return o
}
