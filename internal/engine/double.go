package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/steveyegge/swarm/internal/git"
	"github.com/steveyegge/swarm/internal/tmux"
)

// MuxDouble is a FAKE with SPY capabilities for the Multiplexer interface:
// a working in-memory implementation (no tmux subprocess) that records sent
// keys for verification. Tests inject failures via the Fail* fields.
type MuxDouble struct {
	mu       sync.Mutex
	sessions map[string]map[string]*fakeWindow

	// Available mirrors IsAvailable; defaults true via NewMuxDouble.
	Available bool

	// FailNewWindow makes window creation fail (spawn rollback tests).
	FailNewWindow bool

	// SentLog records SendLine/SendText/SendKey calls as "target\tpayload".
	SentLog []string
}

type fakeWindow struct {
	command      string
	workDir      string
	buffer       string
	dead         bool
	deadStatus   int
	remainOnExit bool
}

// NewMuxDouble creates an empty in-memory multiplexer.
func NewMuxDouble() *MuxDouble {
	return &MuxDouble{
		sessions:  make(map[string]map[string]*fakeWindow),
		Available: true,
	}
}

var _ Multiplexer = (*MuxDouble)(nil)

func (d *MuxDouble) IsAvailable() bool { return d.Available }

func (d *MuxDouble) HasSession(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[name]
	return ok, nil
}

func (d *MuxDouble) EnsureSession(name, workDir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[name]; !ok {
		d.sessions[name] = make(map[string]*fakeWindow)
	}
	return nil
}

func (d *MuxDouble) NewWindow(session, window, workDir, command string) error {
	if d.FailNewWindow {
		return fmt.Errorf("%w: injected failure", tmux.ErrUnavailable)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	windows, ok := d.sessions[session]
	if !ok {
		return fmt.Errorf("%w: session %s", tmux.ErrTargetMissing, session)
	}
	if _, exists := windows[window]; exists {
		return fmt.Errorf("window %s already exists", window)
	}
	windows[window] = &fakeWindow{command: command, workDir: workDir, buffer: "> "}
	return nil
}

func (d *MuxDouble) window(session, window string) (*fakeWindow, error) {
	windows, ok := d.sessions[session]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", tmux.ErrTargetMissing, session)
	}
	w, ok := windows[window]
	if !ok {
		return nil, fmt.Errorf("%w: window %s", tmux.ErrTargetMissing, window)
	}
	return w, nil
}

func (d *MuxDouble) HasWindow(session, window string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.window(session, window)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (d *MuxDouble) ListWindows(session string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	windows, ok := d.sessions[session]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", tmux.ErrTargetMissing, session)
	}
	var names []string
	for name := range windows {
		names = append(names, name)
	}
	return names, nil
}

func (d *MuxDouble) KillWindow(session, window string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.window(session, window); err != nil {
		return err
	}
	delete(d.sessions[session], window)
	return nil
}

func (d *MuxDouble) KillSession(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[name]; !ok {
		return fmt.Errorf("%w: session %s", tmux.ErrTargetMissing, name)
	}
	delete(d.sessions, name)
	return nil
}

func (d *MuxDouble) CapturePane(session, window string, historyLines int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return "", err
	}
	return w.buffer, nil
}

func (d *MuxDouble) SendLine(session, window, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return err
	}
	d.SentLog = append(d.SentLog, tmux.Target(session, window)+"\t"+text)
	w.buffer += "\n" + text
	return nil
}

func (d *MuxDouble) SendText(session, window, text string) error {
	return d.SendLine(session, window, text)
}

func (d *MuxDouble) SendKey(session, window, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.window(session, window); err != nil {
		return err
	}
	d.SentLog = append(d.SentLog, tmux.Target(session, window)+"\t<"+key+">")
	return nil
}

func (d *MuxDouble) SetRemainOnExit(session, window string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return err
	}
	w.remainOnExit = on
	return nil
}

func (d *MuxDouble) PaneDead(session, window string) (bool, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return false, 0, err
	}
	return w.dead, w.deadStatus, nil
}

func (d *MuxDouble) RespawnPane(session, window, workDir, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return err
	}
	w.command = command
	w.dead = false
	w.deadStatus = 0
	w.buffer = "> "
	w.remainOnExit = false
	return nil
}

// SetBuffer replaces a window's captured content (test setup).
func (d *MuxDouble) SetBuffer(session, window, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return err
	}
	w.buffer = content
	return nil
}

// MarkDead simulates the pane process exiting with the given status.
func (d *MuxDouble) MarkDead(session, window string, status int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.window(session, window)
	if err != nil {
		return err
	}
	w.dead = true
	w.deadStatus = status
	return nil
}

// TreesDouble is an in-memory Worktrees fake.
type TreesDouble struct {
	mu sync.Mutex

	// Repos are paths IsRepository answers true for.
	Repos map[string]bool

	// Created maps worktree path -> branch for worktrees made by Create.
	Created map[string]string

	// Dirty maps worktree path -> change count.
	Dirty map[string]int

	// FailCreate makes Create fail (rollback tests).
	FailCreate bool

	// Removed records Remove calls as "path\tforce".
	Removed []string
}

// NewTreesDouble creates an empty worktree fake.
func NewTreesDouble() *TreesDouble {
	return &TreesDouble{
		Repos:   make(map[string]bool),
		Created: make(map[string]string),
		Dirty:   make(map[string]int),
	}
}

var _ Worktrees = (*TreesDouble)(nil)

func (d *TreesDouble) IsRepository(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Repos[path]
}

func (d *TreesDouble) Create(path, branch, baseRepo string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreate {
		return errors.New("injected worktree failure")
	}
	d.Created[path] = branch
	return nil
}

func (d *TreesDouble) Remove(path string, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if count := d.Dirty[path]; count > 0 && !force {
		return &git.DirtyWorktreeError{Path: path, ChangeCount: count}
	}
	delete(d.Created, path)
	d.Removed = append(d.Removed, fmt.Sprintf("%s\t%v", path, force))
	return nil
}

func (d *TreesDouble) ChangeCount(path string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Dirty[path], nil
}
