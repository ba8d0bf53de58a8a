package service

import (
	"sort"
	"strings"
	"time"

	"alphawatch/internal/domain/model"
)

// AllowList restricts comparison to a set of model ids. A nil or empty list allows every model.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList, ignoring blank ids.
func NewAllowList(ids ...string) AllowList {
	out := make(AllowList, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func (a AllowList) Allows(id string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[id]
	return ok
}

// IDs returns the allowed ids in ascending order.
func (a AllowList) IDs() []string {
	out := make([]string, 0, len(a))
	for id := range a {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DiffResult is the outcome of one comparison. Skipped lists the malformed entries
// that were left out; it never aborts the comparison.
type DiffResult struct {
	Events  []model.TradeEvent
	Skipped []model.Defect
}

// Compare classifies the changes between two consecutive snapshots. Models are visited
// in ascending id order and symbols in ascending order, so equal inputs give equal output.
func Compare(prev, cur *model.Snapshot, allow AllowList) DiffResult {
	var res DiffResult
	if prev == nil || cur == nil {
		return res
	}

	for _, id := range candidateModels(prev, cur, allow) {
		res.compareModel(prev, cur, id)
	}
	for _, d := range cur.Orphans() {
		if d.ModelID == "" || allow.Allows(d.ModelID) {
			res.Skipped = append(res.Skipped, d)
		}
	}
	return res
}

func candidateModels(prev, cur *model.Snapshot, allow AllowList) []string {
	seen := make(map[string]struct{})
	for _, id := range prev.ModelIDs() {
		seen[id] = struct{}{}
	}
	for _, id := range cur.ModelIDs() {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		if allow.Allows(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *DiffResult) compareModel(prev, cur *model.Snapshot, id string) {
	// an undecodable entry on either side means we cannot tell what happened to this model
	pd, prevBroken := prev.ModelDefect(id)
	cd, curBroken := cur.ModelDefect(id)
	if prevBroken || curBroken {
		if prevBroken {
			r.Skipped = append(r.Skipped, pd)
		}
		if curBroken {
			r.Skipped = append(r.Skipped, cd)
		}
		return
	}

	last, inPrev := prev.Model(id)
	now, inCur := cur.Model(id)
	at := cur.FetchedAt

	switch {
	case !inPrev && inCur:
		r.Events = append(r.Events, model.ModelAdded{ModelID: id, Time: at})
		return
	case inPrev && !inCur:
		r.Events = append(r.Events, model.ModelRemoved{ModelID: id, Time: at})
		return
	case !inPrev && !inCur:
		return
	}

	for _, sym := range candidateSymbols(prev, cur, last, now) {
		pd, prevBroken := prev.PositionDefect(id, sym)
		cd, curBroken := cur.PositionDefect(id, sym)
		if prevBroken || curBroken {
			if prevBroken {
				r.Skipped = append(r.Skipped, pd)
			}
			if curBroken {
				r.Skipped = append(r.Skipped, cd)
			}
			continue
		}

		lp, hadPos := last.Positions[sym]
		cp, hasPos := now.Positions[sym]
		if ev, ok := comparePosition(id, sym, lp, hadPos, cp, hasPos, at); ok {
			r.Events = append(r.Events, ev)
		}
	}
}

func candidateSymbols(prev, cur *model.Snapshot, last, now model.ModelPosition) []string {
	seen := make(map[string]struct{}, len(last.Positions)+len(now.Positions))
	for sym := range last.Positions {
		seen[sym] = struct{}{}
	}
	for sym := range now.Positions {
		seen[sym] = struct{}{}
	}
	for _, sym := range prev.PositionDefectSymbols(last.ID) {
		seen[sym] = struct{}{}
	}
	for _, sym := range cur.PositionDefectSymbols(now.ID) {
		seen[sym] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func comparePosition(id, sym string, lp model.Position, hadPos bool, cp model.Position, hasPos bool, at time.Time) (model.TradeEvent, bool) {
	switch {
	case !hadPos && hasPos:
		return model.PositionOpened{
			ModelID:    id,
			Sym:        sym,
			Direction:  model.SideOf(cp.Quantity),
			Quantity:   cp.Quantity.Abs(),
			Leverage:   cp.Leverage,
			EntryPrice: cp.EntryPrice,
			Time:       at,
		}, true
	case hadPos && !hasPos:
		return model.PositionClosed{ModelID: id, Sym: sym, Time: at}, true
	case !hadPos && !hasPos:
		return nil, false
	}

	if lp.Quantity.Equal(cp.Quantity) && lp.Leverage == cp.Leverage {
		return nil, false
	}

	delta := cp.Quantity.Sub(lp.Quantity)
	action := model.ActionAdjustLeverage
	switch delta.Sign() {
	case 1:
		action = model.ActionBuy
	case -1:
		action = model.ActionSell
	}

	return model.PositionChanged{
		ModelID:       id,
		Sym:           sym,
		Action:        action,
		QuantityDelta: delta.Abs(),
		PrevQuantity:  lp.Quantity,
		CurQuantity:   cp.Quantity,
		PrevLeverage:  lp.Leverage,
		CurLeverage:   cp.Leverage,
		CurrentPrice:  cp.CurrentPrice,
		Time:          at,
	}, true
}
