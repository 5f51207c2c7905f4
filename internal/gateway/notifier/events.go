package notifier

import (
	"fmt"
	"strings"

	"voltra/internal/logger"
	"voltra/internal/order"
)

// 中文说明：
// 订单事件推送：把生命周期事件(下单/成交/失败/取消/超时)渲染为统一格式
// 的通知并异步发送,发送失败只记日志,绝不影响交易路径。

var eventIcons = map[order.EventType]string{
	order.EventPlaced:   "📨",
	order.EventFilled:   "✅",
	order.EventCanceled: "🚫",
	order.EventFailed:   "❌",
	order.EventTimeout:  "⏱",
}

// OrderEventMessage renders one lifecycle event.
func OrderEventMessage(ev order.Event) StructuredMessage {
	o := ev.Order
	lines := []string{
		fmt.Sprintf("%s %s %s", o.Symbol, o.Side, o.Type),
		fmt.Sprintf("数量 %.6f", o.Quantity),
	}
	if o.AvgFillPrice > 0 {
		lines = append(lines, fmt.Sprintf("均价 %.4f", o.AvgFillPrice))
	} else if o.ExpectedPrice > 0 {
		lines = append(lines, fmt.Sprintf("参考价 %.4f", o.ExpectedPrice))
	}
	if o.PortfolioID != "" {
		lines = append(lines, "组合 "+o.PortfolioID)
	}
	sections := []MessageSection{{Title: "订单", Lines: lines}}
	if ev.Error != "" {
		sections = append(sections, MessageSection{Title: "错误", Lines: []string{ev.Error}})
	}
	return StructuredMessage{
		Icon:      eventIcons[ev.Type],
		Title:     "订单" + eventWord(ev.Type),
		Sections:  sections,
		Footer:    "id: " + o.ID,
		Timestamp: ev.Time,
	}
}

func eventWord(t order.EventType) string {
	switch t {
	case order.EventPlaced:
		return "已提交"
	case order.EventFilled:
		return "已成交"
	case order.EventCanceled:
		return "已取消"
	case order.EventTimeout:
		return "监控超时"
	default:
		return "失败"
	}
}

// Dispatcher fans order events out to a notifier without blocking the
// emitting goroutine.
type Dispatcher struct {
	sink TextNotifier
	ch   chan order.Event
	done chan struct{}
}

func NewDispatcher(sink TextNotifier) *Dispatcher {
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan order.Event, 64),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Handle is the order.Manager subscription entry point. Drops the event
// when the queue is full rather than stalling the lifecycle.
func (d *Dispatcher) Handle(ev order.Event) {
	select {
	case d.ch <- ev:
	default:
		logger.Warnf("notifier queue full, dropping %s event for %s", ev.Type, ev.Order.Symbol)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		text := strings.TrimSpace(OrderEventMessage(ev).RenderMarkdown())
		if text == "" {
			continue
		}
		if err := d.sink.SendText(text); err != nil {
			logger.Warnf("notify %s event failed: %v", ev.Type, err)
		}
	}
}

// Close drains pending events and stops the worker.
func (d *Dispatcher) Close() {
	close(d.ch)
	<-d.done
}
