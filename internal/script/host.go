// Package script hosts the Lua client scripts that register timers.
//
// A Host wraps one gopher-lua state. The state is not goroutine-safe and the
// timer callbacks it installs run inside Scheduler.Dispatch, so every Host
// method must be called on the timer loop goroutine (see timer.Loop.Do).
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"timermux/internal/timer"
	logx "timermux/pkg/logx"
)

// ErrNotLoaded is returned when a script is run before Init or after Close.
var ErrNotLoaded = errors.New("script: lua state not initialized")

type Host struct {
	L     *glua.LState
	sched *timer.Scheduler
	log   logx.Logger

	// owned lists the timer IDs registered from Lua so Close can remove them.
	owned map[timer.ID]struct{}
}

func New(sched *timer.Scheduler, log logx.Logger) *Host {
	return &Host{
		sched: sched,
		log:   log,
		owned: map[timer.ID]struct{}{},
	}
}

// Init creates a fresh Lua state with the timer module installed. Timers
// registered by a previous state are removed first.
func (h *Host) Init() error {
	if h.L != nil {
		h.Close()
	}
	h.L = glua.NewState()
	registerHandleType(h.L)
	h.registerTimerModule()
	h.registerPrint()
	return nil
}

// Close removes every timer the scripts registered and drops the Lua state.
func (h *Host) Close() {
	for id := range h.owned {
		h.sched.Remove(id)
	}
	h.owned = map[timer.ID]struct{}{}
	if h.L != nil {
		h.L.Close()
		h.L = nil
	}
}

// Owned returns the number of live timers registered from Lua. IDs whose
// entries have since gone away are forgotten.
func (h *Host) Owned() int {
	for id := range h.owned {
		if !h.sched.Active(id) {
			delete(h.owned, id)
		}
	}
	return len(h.owned)
}

// DoString runs a chunk of Lua code. name shows up in error traces.
func (h *Host) DoString(name, code string) error {
	if h.L == nil {
		return ErrNotLoaded
	}
	fn, err := h.L.Load(strings.NewReader(code), name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	h.L.Push(fn)
	if err := h.L.PCall(0, 0, nil); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// DoFile runs a Lua file. The file's directory is prepended to package.path
// for the duration of the call so the script can require its siblings.
func (h *Host) DoFile(path string) error {
	if h.L == nil {
		return ErrNotLoaded
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	pkg, ok := h.L.GetGlobal("package").(*glua.LTable)
	if !ok {
		return h.runFile(abs)
	}
	oldPath := h.L.GetField(pkg, "path").String()
	h.L.SetField(pkg, "path", glua.LString(filepath.Dir(abs)+"/?.lua;"+oldPath))
	defer h.L.SetField(pkg, "path", glua.LString(oldPath))
	return h.runFile(abs)
}

func (h *Host) runFile(abs string) error {
	if err := h.L.DoFile(abs); err != nil {
		return fmt.Errorf("run %s: %w", filepath.Base(abs), err)
	}
	h.log.Debug("script loaded", logx.String("path", abs))
	return nil
}

// LoadScripts runs files in order. Relative entries resolve against dir.
// With no files, every *.lua directly under dir runs in name order. A
// failing script is logged and skipped; the joined errors are returned
// together with the number of scripts that ran.
func (h *Host) LoadScripts(dir string, files []string) (int, error) {
	if h.L == nil {
		return 0, ErrNotLoaded
	}
	paths, err := resolveScripts(dir, files)
	if err != nil {
		return 0, err
	}
	var (
		loaded int
		errs   []error
	)
	for _, p := range paths {
		if err := h.DoFile(p); err != nil {
			h.log.Error("script failed", logx.String("path", p), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}

func resolveScripts(dir string, files []string) ([]string, error) {
	if len(files) > 0 {
		out := make([]string, 0, len(files))
		for _, f := range files {
			f = strings.TrimSpace(f)
			if !filepath.IsAbs(f) && dir != "" {
				f = filepath.Join(dir, f)
			}
			out = append(out, f)
		}
		return out, nil
	}
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".lua") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// registerPrint routes Lua print() to the host logger.
func (h *Host) registerPrint() {
	h.L.SetGlobal("print", h.L.NewFunction(func(L *glua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		h.log.Info(strings.Join(parts, "\t"), logx.String("src", "lua"))
		return 0
	}))
}
