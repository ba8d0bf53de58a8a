package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 快照文档的顶层字段
const (
	fieldPositions = "positions"
	fieldFetchTime = "fetch_time"
	fieldTimestamp = "timestamp"
)

// maxLeverage bounds the decoded leverage so it always fits an int.
const maxLeverage = math.MaxInt32

var ErrMalformedSnapshot = errors.New("malformed snapshot document")

// ExitPlan 止盈止损计划
type ExitPlan struct {
	ProfitTarget float64 `json:"profit_target"`
	StopLoss     float64 `json:"stop_loss"`
}

// Position 单个合约持仓，Quantity 符号表示方向（正=多，负=空）
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	Leverage      int
	EntryPrice    float64
	CurrentPrice  float64
	Margin        float64
	UnrealizedPnL float64
	ClosedPnL     float64
	ExitPlan      *ExitPlan
	EntryTime     *time.Time
}

// ModelPosition 一个模型（交易账户）在某一时刻的全部持仓
type ModelPosition struct {
	ID          string
	RealizedPnL float64
	Positions   map[string]Position
}

// Symbols returns the position keys in ascending order.
func (m ModelPosition) Symbols() []string {
	out := make([]string, 0, len(m.Positions))
	for sym := range m.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// UnrealizedPnL sums the unrealized PnL of every open position.
func (m ModelPosition) UnrealizedPnL() float64 {
	var total float64
	for _, p := range m.Positions {
		total += p.UnrealizedPnL
	}
	return total
}

// Defect is an entry that could not be decoded. Symbol is empty for model-level defects
// and ModelID is empty when the entry carried no usable id.
type Defect struct {
	ModelID string `json:"model_id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Reason  string `json:"reason"`
}

func (d Defect) String() string {
	switch {
	case d.ModelID == "":
		return "model entry: " + d.Reason
	case d.Symbol == "":
		return fmt.Sprintf("model %s: %s", d.ModelID, d.Reason)
	default:
		return fmt.Sprintf("model %s symbol %s: %s", d.ModelID, d.Symbol, d.Reason)
	}
}

// Snapshot is one immutable fetch result. The decoded document is kept so that
// fields this package does not model survive a round trip through the store.
type Snapshot struct {
	FetchedAt time.Time
	Models    []ModelPosition
	Defects   []Defect

	doc     map[string]json.RawMessage
	byID    map[string]int
	broken  map[string]string
	brokenP map[string]map[string]string
	orphans []Defect
}

// NewSnapshot builds a snapshot from typed values. Non-finite floats are stored as 0
// so that the persisted document and the in-memory value agree.
func NewSnapshot(fetchedAt time.Time, models ...ModelPosition) *Snapshot {
	clones := make([]ModelPosition, 0, len(models))
	entries := make([]wireModel, 0, len(models))
	for _, m := range models {
		c := cloneModel(m)
		clones = append(clones, c)
		entries = append(entries, toWireModel(c))
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		// cloneModel leaves nothing json cannot encode
		panic(fmt.Sprintf("model: encode positions: %v", err))
	}

	s := &Snapshot{
		FetchedAt: fetchedAt,
		Models:    make([]ModelPosition, 0, len(models)),
		doc:       map[string]json.RawMessage{fieldPositions: raw},
	}
	for _, m := range clones {
		s.addModel(m)
	}
	return s
}

// DecodeSnapshot parses a snapshot document. A document that is not an object, or whose
// positions field is missing, null or not an array, is an error; bad entries become Defects.
// FetchedAt is taken from the document's timestamp fields when present.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformedSnapshot)
	}

	raw, ok := doc[fieldPositions]
	if !ok || isNull(raw) {
		return nil, fmt.Errorf("%w: no positions array", ErrMalformedSnapshot)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: positions: %v", ErrMalformedSnapshot, err)
	}

	s := &Snapshot{
		FetchedAt: docTime(doc),
		Models:    make([]ModelPosition, 0, len(entries)),
		doc:       doc,
	}
	for i, raw := range entries {
		s.decodeModel(i, raw)
	}
	return s, nil
}

// Stamped returns a copy of s with FetchedAt replaced.
func (s *Snapshot) Stamped(t time.Time) *Snapshot {
	out := *s
	out.FetchedAt = t
	return &out
}

// Model looks up a well-formed model by id.
func (s *Snapshot) Model(id string) (ModelPosition, bool) {
	if s == nil {
		return ModelPosition{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return ModelPosition{}, false
	}
	return s.Models[i], true
}

// ModelIDs lists every model id present, well-formed or not.
func (s *Snapshot) ModelIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byID)+len(s.broken))
	for id := range s.byID {
		out = append(out, id)
	}
	for id := range s.broken {
		out = append(out, id)
	}
	return out
}

// ModelDefect reports why model id was dropped from this snapshot, if it was.
func (s *Snapshot) ModelDefect(id string) (Defect, bool) {
	if s == nil {
		return Defect{}, false
	}
	reason, ok := s.broken[id]
	return Defect{ModelID: id, Reason: reason}, ok
}

// PositionDefect reports why symbol of model id was dropped, if it was.
func (s *Snapshot) PositionDefect(id, symbol string) (Defect, bool) {
	if s == nil {
		return Defect{}, false
	}
	reason, ok := s.brokenP[id][symbol]
	return Defect{ModelID: id, Symbol: symbol, Reason: reason}, ok
}

// PositionDefectSymbols lists the symbols of model id that were dropped.
func (s *Snapshot) PositionDefectSymbols(id string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.brokenP[id]))
	for sym := range s.brokenP[id] {
		out = append(out, sym)
	}
	return out
}

// Orphans lists defects that cannot be tied to a single model: entries without an id
// and repeated ids (the first entry for an id wins).
func (s *Snapshot) Orphans() []Defect {
	if s == nil {
		return nil
	}
	return s.orphans
}

// MarshalJSON writes the persisted form: the original document plus fetch_time and timestamp.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(s.doc)+2)
	for k, v := range s.doc {
		doc[k] = v
	}
	if _, ok := doc[fieldPositions]; !ok {
		doc[fieldPositions] = json.RawMessage("[]")
	}
	ft, err := json.Marshal(s.FetchedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	doc[fieldFetchTime] = ft
	ts := float64(s.FetchedAt.UnixNano()) / float64(time.Second)
	doc[fieldTimestamp] = json.RawMessage(fmt.Sprintf("%.6f", ts))
	return json.Marshal(doc)
}

func (s *Snapshot) addModel(m ModelPosition) {
	if s.byID == nil {
		s.byID = make(map[string]int)
	}
	s.byID[m.ID] = len(s.Models)
	s.Models = append(s.Models, m)
}

func (s *Snapshot) rejectModel(id, reason string) {
	d := Defect{ModelID: id, Reason: reason}
	s.Defects = append(s.Defects, d)
	if id == "" {
		s.orphans = append(s.orphans, d)
		return
	}
	if _, ok := s.byID[id]; ok {
		s.orphans = append(s.orphans, d)
		return
	}
	if s.broken == nil {
		s.broken = make(map[string]string)
	}
	s.broken[id] = reason
}

func (s *Snapshot) rejectPosition(id, symbol, reason string) {
	s.Defects = append(s.Defects, Defect{ModelID: id, Symbol: symbol, Reason: reason})
	if s.brokenP == nil {
		s.brokenP = make(map[string]map[string]string)
	}
	if s.brokenP[id] == nil {
		s.brokenP[id] = make(map[string]string)
	}
	s.brokenP[id][symbol] = reason
}

func (s *Snapshot) decodeModel(index int, raw json.RawMessage) {
	var wm wireModelIn
	if err := json.Unmarshal(raw, &wm); err != nil {
		// the id may still be readable even if another field is not
		var idOnly struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &idOnly)
		s.rejectModel(strings.TrimSpace(idOnly.ID), fmt.Sprintf("entry %d: %v", index, err))
		return
	}
	if wm.ID == nil || strings.TrimSpace(*wm.ID) == "" {
		s.rejectModel("", fmt.Sprintf("entry %d: missing id", index))
		return
	}
	id := strings.TrimSpace(*wm.ID)
	_, dup := s.byID[id]
	if _, broken := s.broken[id]; dup || broken {
		d := Defect{ModelID: id, Reason: fmt.Sprintf("entry %d: duplicate id", index)}
		s.Defects = append(s.Defects, d)
		s.orphans = append(s.orphans, d)
		return
	}

	m := ModelPosition{ID: id, Positions: make(map[string]Position, len(wm.Positions))}
	if wm.RealizedPnL != nil {
		m.RealizedPnL = *wm.RealizedPnL
	}
	for sym, praw := range wm.Positions {
		p, err := decodePosition(sym, praw)
		if err != nil {
			s.rejectPosition(id, sym, err.Error())
			continue
		}
		m.Positions[sym] = p
	}
	s.addModel(m)
}

func decodePosition(symbol string, raw json.RawMessage) (Position, error) {
	if isNull(raw) {
		return Position{}, errors.New("null position")
	}
	var wp wirePosition
	if err := json.Unmarshal(raw, &wp); err != nil {
		return Position{}, err
	}
	if wp.Quantity == nil {
		return Position{}, errors.New("missing quantity")
	}
	qty, err := decimal.NewFromString(wp.Quantity.String())
	if err != nil {
		return Position{}, fmt.Errorf("quantity: %w", err)
	}

	lev := 1
	if wp.Leverage != nil {
		f, err := wp.Leverage.Float64()
		if err != nil {
			return Position{}, fmt.Errorf("leverage: %w", err)
		}
		if f < 1 || f > maxLeverage || f != math.Trunc(f) {
			return Position{}, fmt.Errorf("leverage %v is not a whole number in [1, %d]", f, maxLeverage)
		}
		lev = int(f)
	}

	p := Position{
		Symbol:        symbol,
		Quantity:      qty,
		Leverage:      lev,
		EntryPrice:    wp.EntryPrice,
		CurrentPrice:  wp.CurrentPrice,
		Margin:        wp.Margin,
		UnrealizedPnL: wp.UnrealizedPnL,
		ClosedPnL:     wp.ClosedPnL,
		ExitPlan:      wp.ExitPlan,
	}
	if wp.EntryTime != nil && *wp.EntryTime > 0 {
		t := unixSeconds(*wp.EntryTime)
		p.EntryTime = &t
	}
	return p, nil
}

func docTime(doc map[string]json.RawMessage) time.Time {
	if raw, ok := doc[fieldFetchTime]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	if raw, ok := doc[fieldTimestamp]; ok {
		var sec float64
		if err := json.Unmarshal(raw, &sec); err == nil && sec > 0 {
			return unixSeconds(sec)
		}
	}
	return time.Time{}
}

// unixSeconds converts fractional epoch seconds, rounding to the microsecond.
func unixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func cloneModel(m ModelPosition) ModelPosition {
	out := ModelPosition{ID: m.ID, RealizedPnL: finite(m.RealizedPnL), Positions: make(map[string]Position, len(m.Positions))}
	for sym, p := range m.Positions {
		if p.Symbol == "" {
			p.Symbol = sym
		}
		if p.Leverage < 1 {
			p.Leverage = 1
		}
		p.EntryPrice = finite(p.EntryPrice)
		p.CurrentPrice = finite(p.CurrentPrice)
		p.Margin = finite(p.Margin)
		p.UnrealizedPnL = finite(p.UnrealizedPnL)
		p.ClosedPnL = finite(p.ClosedPnL)
		if p.ExitPlan != nil {
			p.ExitPlan = &ExitPlan{ProfitTarget: finite(p.ExitPlan.ProfitTarget), StopLoss: finite(p.ExitPlan.StopLoss)}
		}
		out.Positions[sym] = p
	}
	return out
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type wireModelIn struct {
	ID          *string                    `json:"id"`
	RealizedPnL *float64                   `json:"realized_pnl"`
	Positions   map[string]json.RawMessage `json:"positions"`
}

type wireModel struct {
	ID          string                  `json:"id"`
	RealizedPnL float64                 `json:"realized_pnl"`
	Positions   map[string]wirePosition `json:"positions"`
}

type wirePosition struct {
	Symbol        string       `json:"symbol,omitempty"`
	Quantity      *json.Number `json:"quantity"`
	Leverage      *json.Number `json:"leverage"`
	EntryPrice    float64      `json:"entry_price"`
	CurrentPrice  float64      `json:"current_price"`
	Margin        float64      `json:"margin"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	ClosedPnL     float64      `json:"closed_pnl"`
	ExitPlan      *ExitPlan    `json:"exit_plan,omitempty"`
	EntryTime     *float64     `json:"entry_time,omitempty"`
}

func toWireModel(m ModelPosition) wireModel {
	out := wireModel{ID: m.ID, RealizedPnL: m.RealizedPnL, Positions: make(map[string]wirePosition, len(m.Positions))}
	for sym, p := range m.Positions {
		qty := json.Number(p.Quantity.String())
		lev := json.Number(fmt.Sprintf("%d", p.Leverage))
		wp := wirePosition{
			Symbol:        p.Symbol,
			Quantity:      &qty,
			Leverage:      &lev,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			Margin:        p.Margin,
			UnrealizedPnL: p.UnrealizedPnL,
			ClosedPnL:     p.ClosedPnL,
			ExitPlan:      p.ExitPlan,
		}
		if p.EntryTime != nil {
			sec := float64(p.EntryTime.UnixNano()) / float64(time.Second)
			wp.EntryTime = &sec
		}
		out.Positions[sym] = wp
	}
	return out
}
