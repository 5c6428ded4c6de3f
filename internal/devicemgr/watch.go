package devicemgr

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
)

// Watcher observes /dev for SI reader and Meshtastic radio TTYs coming and
// going, and feeds the resulting Candidates into a Manager's ordered event
// queue. It is a plain fsnotify watch over /dev rather than a full udev
// client: good enough to detect a tty node's own create/remove, which is
// all Classify needs to act on.
type Watcher struct {
	mgr     *Manager
	fsw     *fsnotify.Watcher
	devPath string
}

// NewWatcher opens an fsnotify watch on devPath (typically "/dev") and
// reports every create/remove of a ttyUSB*/ttyACM* node to mgr.
func NewWatcher(mgr *Manager, devPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(devPath); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{mgr: mgr, fsw: fsw, devPath: devPath}, nil
}

// Scan reports every currently-present candidate device, for startup before
// any fsnotify event has fired.
func (w *Watcher) Scan() {
	entries, err := os.ReadDir(w.devPath)
	if err != nil {
		logging.Error("devicemgr: failed to scan dev path", zap.String("path", w.devPath), zap.Error(err))
		return
	}
	for _, e := range entries {
		if c, ok := candidateFromName(w.devPath, e.Name()); ok {
			w.mgr.NotifyAdd(c)
		}
	}
}

// Run processes fsnotify events until the watcher is closed.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error("devicemgr: watch error", zap.Error(err))
		}
	}
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	c, ok := candidateFromName(w.devPath, name)
	if !ok {
		return
	}
	switch {
	case ev.Op&(fsnotify.Create) != 0:
		w.mgr.NotifyAdd(c)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mgr.NotifyRemove(c)
	}
}

// candidateFromName builds a Candidate from a /dev entry name, reading the
// USB vendor ID out of sysfs. Only ttyUSB* (SI readers, via an FTDI/CP210x/
// CH340 bridge) and ttyACM* (Meshtastic radios, native USB-CDC) are
// recognized; everything else is ignored.
func candidateFromName(devPath, name string) (Candidate, bool) {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return Candidate{
			USBNode:  name,
			TTYPath:  filepath.Join(devPath, name),
			VendorID: sysfsVendorID(name),
		}, true
	case strings.HasPrefix(name, "ttyACM"):
		return Candidate{
			USBNode:   name,
			TTYPath:   filepath.Join(devPath, name),
			VendorID:  sysfsVendorID(name),
			IsACMHost: strings.HasSuffix(name, "001"),
		}, true
	default:
		return Candidate{}, false
	}
}

// sysfsVendorID reads the USB vendor ID for a tty node from
// /sys/class/tty/<name>/device/../idVendor. Returns "" if unreadable, e.g.
// the sysfs hierarchy differs on non-Linux or test hosts; Classify then
// falls back to the TTYPath-based Meshtastic heuristic.
func sysfsVendorID(name string) string {
	path := filepath.Join("/sys/class/tty", name, "device") + "/../idVendor"
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
