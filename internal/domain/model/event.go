package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind 交易事件类型
type EventKind string

const (
	KindModelAdded      EventKind = "model_added"
	KindModelRemoved    EventKind = "model_removed"
	KindPositionOpened  EventKind = "position_opened"
	KindPositionClosed  EventKind = "position_closed"
	KindPositionChanged EventKind = "position_changed"
)

// Action 交易动作
type Action string

const (
	ActionBuy            Action = "buy"
	ActionSell           Action = "sell"
	ActionAdjustLeverage Action = "adjust_leverage"
)

// SideOf maps a signed quantity to the side that produced it.
func SideOf(qty decimal.Decimal) Action {
	if qty.IsPositive() {
		return ActionBuy
	}
	return ActionSell
}

// TradeEvent is a closed set: only the five types in this file implement it.
type TradeEvent interface {
	Kind() EventKind
	Model() string
	// Symbol is empty for model-level events.
	Symbol() string
	Message() string
	At() time.Time

	tradeEvent()
}

type ModelAdded struct {
	ModelID string
	Time    time.Time
}

type ModelRemoved struct {
	ModelID string
	Time    time.Time
}

type PositionOpened struct {
	ModelID    string
	Sym        string
	Direction  Action
	Quantity   decimal.Decimal // absolute value
	Leverage   int
	EntryPrice float64
	Time       time.Time
}

type PositionClosed struct {
	ModelID string
	Sym     string
	Time    time.Time
}

type PositionChanged struct {
	ModelID       string
	Sym           string
	Action        Action
	QuantityDelta decimal.Decimal // absolute value
	PrevQuantity  decimal.Decimal
	CurQuantity   decimal.Decimal
	PrevLeverage  int
	CurLeverage   int
	CurrentPrice  float64
	Time          time.Time
}

func (ModelAdded) tradeEvent()      {}
func (ModelRemoved) tradeEvent()    {}
func (PositionOpened) tradeEvent()  {}
func (PositionClosed) tradeEvent()  {}
func (PositionChanged) tradeEvent() {}

func (e ModelAdded) Kind() EventKind      { return KindModelAdded }
func (e ModelRemoved) Kind() EventKind    { return KindModelRemoved }
func (e PositionOpened) Kind() EventKind  { return KindPositionOpened }
func (e PositionClosed) Kind() EventKind  { return KindPositionClosed }
func (e PositionChanged) Kind() EventKind { return KindPositionChanged }

func (e ModelAdded) Model() string      { return e.ModelID }
func (e ModelRemoved) Model() string    { return e.ModelID }
func (e PositionOpened) Model() string  { return e.ModelID }
func (e PositionClosed) Model() string  { return e.ModelID }
func (e PositionChanged) Model() string { return e.ModelID }

func (e ModelAdded) Symbol() string      { return "" }
func (e ModelRemoved) Symbol() string    { return "" }
func (e PositionOpened) Symbol() string  { return e.Sym }
func (e PositionClosed) Symbol() string  { return e.Sym }
func (e PositionChanged) Symbol() string { return e.Sym }

func (e ModelAdded) At() time.Time      { return e.Time }
func (e ModelRemoved) At() time.Time    { return e.Time }
func (e PositionOpened) At() time.Time  { return e.Time }
func (e PositionClosed) At() time.Time  { return e.Time }
func (e PositionChanged) At() time.Time { return e.Time }

func (e ModelAdded) Message() string {
	return fmt.Sprintf("New model %s started trading", e.ModelID)
}

func (e ModelRemoved) Message() string {
	return fmt.Sprintf("Model %s stopped trading", e.ModelID)
}

func (e PositionOpened) Message() string {
	return fmt.Sprintf("%s %s opened: %s %s (leverage: %dx)", e.ModelID, e.Sym, e.Direction, e.Quantity.String(), e.Leverage)
}

func (e PositionClosed) Message() string {
	return fmt.Sprintf("%s %s closed", e.ModelID, e.Sym)
}

func (e PositionChanged) Message() string {
	if e.Action == ActionAdjustLeverage {
		return fmt.Sprintf("%s %s adjusted leverage to %dx", e.ModelID, e.Sym, e.CurLeverage)
	}
	return fmt.Sprintf("%s %s %s %s (leverage: %dx)", e.ModelID, e.Sym, e.Action, e.QuantityDelta.String(), e.CurLeverage)
}

// EventRecord is the flat form of a TradeEvent used by history stores and message buses.
type EventRecord struct {
	ID           string    `json:"id"`
	Type         EventKind `json:"type"`
	ModelID      string    `json:"model_id"`
	Symbol       string    `json:"symbol,omitempty"`
	Action       Action    `json:"action,omitempty"`
	Quantity     string    `json:"quantity,omitempty"`
	PrevQuantity string    `json:"prev_quantity,omitempty"`
	CurQuantity  string    `json:"cur_quantity,omitempty"`
	PrevLeverage int       `json:"prev_leverage,omitempty"`
	Leverage     int       `json:"leverage,omitempty"`
	EntryPrice   float64   `json:"entry_price,omitempty"`
	CurrentPrice float64   `json:"current_price,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Record flattens e; id is left for the caller to assign.
func Record(e TradeEvent) EventRecord {
	r := EventRecord{
		Type:      e.Kind(),
		ModelID:   e.Model(),
		Symbol:    e.Symbol(),
		Message:   e.Message(),
		Timestamp: e.At(),
	}
	switch ev := e.(type) {
	case ModelAdded, ModelRemoved, PositionClosed:
	case PositionOpened:
		r.Action = ev.Direction
		r.Quantity = ev.Quantity.String()
		r.Leverage = ev.Leverage
		r.EntryPrice = ev.EntryPrice
	case PositionChanged:
		r.Action = ev.Action
		r.Quantity = ev.QuantityDelta.String()
		r.PrevQuantity = ev.PrevQuantity.String()
		r.CurQuantity = ev.CurQuantity.String()
		r.PrevLeverage = ev.PrevLeverage
		r.Leverage = ev.CurLeverage
		r.CurrentPrice = ev.CurrentPrice
	}
	return r
}
