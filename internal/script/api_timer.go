package script

import (
	"fmt"
	"math"

	glua "github.com/yuin/gopher-lua"

	"timermux/internal/timer"
	logx "timermux/pkg/logx"
)

// registerTimerModule installs the global `timer` table and makes it
// available to require("timer").
func (h *Host) registerTimerModule() {
	mod := h.L.SetFuncs(h.L.NewTable(), map[string]glua.LGFunction{
		"set":      h.luaSet,
		"interval": h.luaInterval,
		"remove":   h.luaRemove,
		"status":   h.luaStatus,
		"list":     h.luaList,
	})
	h.L.SetGlobal("timer", mod)
	h.L.PreloadModule("timer", func(L *glua.LState) int {
		L.Push(mod)
		return 1
	})
}

// timer.set(name, ms, fn [, {on_cancel = fn, max = n}]) -> handle | nil
//
// An active name is updated in place (phase kept). ms <= 0 removes the
// timer and returns nil.
func (h *Host) luaSet(L *glua.LState) int {
	id := timer.ID(L.CheckString(1))
	ms := checkMillis(L, 2)
	fn := L.CheckFunction(3)
	opts := L.OptTable(4, nil)

	var options []timer.Option
	if opts != nil {
		if v := L.GetField(opts, "on_cancel"); v != glua.LNil {
			hook, ok := v.(*glua.LFunction)
			if !ok {
				L.ArgError(4, "on_cancel must be a function")
				return 0
			}
			options = append(options, timer.WithCancelHook(h.cancelHook(id, hook)))
		}
		if v := L.GetField(opts, "max"); v != glua.LNil {
			n, ok := v.(glua.LNumber)
			if !ok {
				L.ArgError(4, "max must be a number")
				return 0
			}
			options = append(options, timer.WithMaxIterations(int(n)))
		}
	}

	handle := h.sched.Upsert(id, ms, h.callback(id, fn), options...)
	if handle.IsZero() {
		delete(h.owned, id)
		L.Push(glua.LNil)
		return 1
	}
	h.owned[id] = struct{}{}
	L.Push(newHandle(L, handle))
	return 1
}

// timer.interval(handle, ms)
func (h *Host) luaInterval(L *glua.LState) int {
	handle := checkHandle(L, 1)
	ms := checkMillis(L, 2)
	h.sched.SetInterval(handle, ms)
	return 0
}

// timer.remove(name)
func (h *Host) luaRemove(L *glua.LState) int {
	id := timer.ID(L.CheckString(1))
	h.sched.Remove(id)
	delete(h.owned, id)
	return 0
}

// timer.status() -> number of active timers (all sources, not just Lua)
func (h *Host) luaStatus(L *glua.LState) int {
	L.Push(glua.LNumber(h.sched.Status()))
	return 1
}

// timer.list() -> array of {id, interval, due_in, fired, max, cancel_hook}
func (h *Host) luaList(L *glua.LState) int {
	out := L.NewTable()
	for _, info := range h.sched.Snapshot() {
		t := L.NewTable()
		L.SetField(t, "id", glua.LString(info.ID))
		L.SetField(t, "interval", glua.LNumber(info.IntervalMs))
		L.SetField(t, "due_in", glua.LNumber(info.DueInMs))
		L.SetField(t, "fired", glua.LNumber(info.Fired))
		L.SetField(t, "max", glua.LNumber(info.MaxIterations))
		L.SetField(t, "cancel_hook", glua.LBool(info.CancelHook))
		out.Append(t)
	}
	L.Push(out)
	return 1
}

// callback adapts a Lua function to a timer.Func. Lua errors come back as
// the returned error, which removes the entry.
func (h *Host) callback(id timer.ID, fn *glua.LFunction) timer.Func {
	return func() (timer.Result, error) {
		if h.L == nil {
			return timer.Stop(), nil
		}
		if err := h.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
			return timer.Result{}, fmt.Errorf("lua timer %q: %w", id, err)
		}
		ret := h.L.Get(-1)
		h.L.Pop(1)
		return resultFromLua(id, ret)
	}
}

// resultFromLua maps a callback's return value:
// nil or true continue, a positive number reschedules, a non-positive number
// or false stops. Anything else is an error.
func resultFromLua(id timer.ID, v glua.LValue) (timer.Result, error) {
	switch x := v.(type) {
	case *glua.LNilType:
		return timer.Continue(), nil
	case glua.LBool:
		if bool(x) {
			return timer.Continue(), nil
		}
		return timer.Stop(), nil
	case glua.LNumber:
		ms, ok := toMillis(x)
		if !ok {
			return timer.Result{}, fmt.Errorf("lua timer %q: interval %v out of range", id, x)
		}
		return timer.Reschedule(ms), nil
	default:
		return timer.Result{}, fmt.Errorf("lua timer %q: unsupported return type %s", id, v.Type())
	}
}

// maxMillis bounds intervals coming from Lua; larger values lose integer
// precision as float64.
const maxMillis = 1 << 53

// toMillis rounds a Lua number to whole milliseconds. A positive fraction
// never rounds down to zero, so 0.4 is still a (floored) interval and not a
// removal. ok is false for NaN, infinities and values beyond maxMillis.
func toMillis(n glua.LNumber) (ms int64, ok bool) {
	f := float64(n)
	if math.IsNaN(f) || math.Abs(f) > maxMillis {
		return 0, false
	}
	if f <= 0 {
		return 0, true
	}
	return max(1, int64(math.Round(f))), true
}

func checkMillis(L *glua.LState, n int) int64 {
	ms, ok := toMillis(L.CheckNumber(n))
	if !ok {
		L.ArgError(n, "interval out of range")
	}
	return ms
}

func (h *Host) cancelHook(id timer.ID, fn *glua.LFunction) func() {
	return func() {
		if h.L == nil {
			return
		}
		if err := h.L.CallByParam(glua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			h.log.Error("lua cancel hook failed", logx.String("id", string(id)), logx.Err(err))
		}
	}
}
