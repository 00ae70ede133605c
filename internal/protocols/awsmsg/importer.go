package awsmsg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/ntcip"
)

// Controller parameters of AWS signs.
const (
	// ParamID is the sign id used in the message file.
	ParamID = "aws_id"

	// ParamAllowed set to "false" keeps the importer off a sign.
	ParamAllowed = "aws_allowed"
)

const defaultInterval = 30 * time.Second

// Links is the part of comm.Manager the importer uses.
type Links interface {
	Links() []comm.LinkStatus
	Controller(link, name string) (*comm.Controller, bool)
	Driver(link string) (comm.Driver, bool)
	Enqueue(link string, op *comm.Operation) error
}

// Config configures an Importer. Path and Links are required.
type Config struct {
	Path     string
	Interval time.Duration

	// ReportPath, when set, receives one audit line per parsed message.
	ReportPath string

	Fonts    Fonts
	Location *time.Location
	Links    Links
	Logger   comm.Logger
}

// Result counts what one import did.
type Result struct {
	Lines     int `json:"lines"`
	Invalid   int `json:"invalid"`
	Sent      int `json:"sent"`
	Unchanged int `json:"unchanged"`
	Unmatched int `json:"unmatched"`
}

// Importer reads the message file every interval and sends each message
// to its sign, unless the sign already shows it. A sign changed by
// someone else is put back on the next read. Report lines are written
// only when the file changed.
//
// Thread Safety:
//   - Start and Stop are called once; Import may be called from tests.
type Importer struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	modTime time.Time
	size    int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// target is a sign reachable for a file id.
type target struct {
	link string
	ctrl *comm.Controller
	sign *ntcip.Sign
}

// NewImporter creates an importer. Call Start to begin.
func NewImporter(cfg Config) *Importer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Fonts == (Fonts{}) {
		cfg.Fonts = DefaultFonts
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Importer{cfg: cfg, now: time.Now, done: make(chan struct{})}
}

// Start imports the file every interval until ctx is cancelled or Stop is
// called.
func (im *Importer) Start(ctx context.Context) {
	im.wg.Add(1)
	go func() {
		defer im.wg.Done()
		ticker := time.NewTicker(im.cfg.Interval)
		defer ticker.Stop()

		for {
			im.run(ctx)
			select {
			case <-ctx.Done():
				return
			case <-im.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (im *Importer) Stop() {
	im.stopOnce.Do(func() {
		close(im.done)
		im.wg.Wait()
	})
}

func (im *Importer) run(ctx context.Context) {
	res, err := im.Import(ctx)
	switch {
	case errors.Is(err, os.ErrNotExist):
		im.cfg.Logger.Debug("aws message file not present", "path", im.cfg.Path)
	case err != nil:
		im.cfg.Logger.Warn("aws import failed", "path", im.cfg.Path, "error", err)
	case res.Sent > 0:
		im.cfg.Logger.Info("aws messages imported", "lines", res.Lines, "sent", res.Sent,
			"unchanged", res.Unchanged, "invalid", res.Invalid, "unmatched", res.Unmatched)
	}
}

// Import reads the file and sends its messages. When a sign id appears on
// several lines the last one wins.
func (im *Importer) Import(ctx context.Context) (Result, error) {
	msgs, res, err := im.read(ctx)
	if err != nil || len(msgs) == 0 {
		return res, err
	}

	targets := im.targets()
	for _, m := range msgs {
		t, ok := targets[m.SignID]
		if !ok {
			res.Unmatched++
			im.cfg.Logger.Debug("no sign for aws id", "aws_id", m.SignID)
			continue
		}
		sent, err := im.send(t, m)
		if err != nil {
			im.cfg.Logger.Warn("failed to queue aws message", "link", t.link,
				"controller", t.ctrl.Name(), "error", err)
			continue
		}
		if sent {
			res.Sent++
		} else {
			res.Unchanged++
		}
	}
	return res, nil
}

// read parses the file, one message per sign id.
func (im *Importer) read(ctx context.Context) ([]Message, Result, error) {
	var res Result

	f, err := os.Open(im.cfg.Path)
	if err != nil {
		return nil, res, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, res, err
	}
	im.mu.Lock()
	changed := !info.ModTime().Equal(im.modTime) || info.Size() != im.size
	im.modTime, im.size = info.ModTime(), info.Size()
	im.mu.Unlock()

	latest := make(map[int]Message)
	var reports []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		res.Lines++

		m, err := Parse(line, im.cfg.Fonts, im.cfg.Location)
		if err != nil {
			res.Invalid++
			if changed {
				im.cfg.Logger.Warn("invalid aws message", "line", n, "error", err)
			}
			continue
		}
		if changed && m.Kind == KindUnknown {
			im.cfg.Logger.Warn("unknown aws message description, sent as one page",
				"line", n, "description", m.Description)
		}
		if changed && len(m.UnknownFonts) > 0 {
			im.cfg.Logger.Warn("unknown aws font, using single stroke", "line", n, "fonts", m.UnknownFonts)
		}
		latest[m.SignID] = m
		if changed {
			reports = append(reports, m.Report(im.now()))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, res, fmt.Errorf("reading %s: %w", im.cfg.Path, err)
	}

	im.report(reports)

	ids := make([]int, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	msgs := make([]Message, len(ids))
	for i, id := range ids {
		msgs[i] = latest[id]
	}
	return msgs, res, nil
}

// report appends audit lines to the report file.
func (im *Importer) report(lines []string) {
	if im.cfg.ReportPath == "" || len(lines) == 0 {
		return
	}
	f, err := os.OpenFile(im.cfg.ReportPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		im.cfg.Logger.Warn("cannot open aws report", "path", im.cfg.ReportPath, "error", err)
		return
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		_, _ = w.WriteString(l + "\n")
	}
	err = errors.Join(w.Flush(), f.Close())
	if err != nil {
		im.cfg.Logger.Warn("cannot write aws report", "path", im.cfg.ReportPath, "error", err)
	}
}

// targets maps file ids to signs. When several controllers reach the
// same id, the first one not comm failed is used, in link order.
func (im *Importer) targets() map[int]target {
	out := make(map[int]target)
	for _, l := range im.cfg.Links.Links() {
		if l.Protocol != ntcip.Protocol {
			continue
		}
		d, ok := im.cfg.Links.Driver(l.Name)
		if !ok {
			continue
		}
		drv, ok := d.(*ntcip.Driver)
		if !ok {
			continue
		}

		for _, cs := range l.Controllers {
			ctrl, ok := im.cfg.Links.Controller(l.Name, cs.Name)
			if !ok {
				continue
			}
			id, ok := awsID(ctrl)
			if !ok {
				continue
			}
			if prev, dup := out[id]; dup && !prev.ctrl.IsFailed() {
				continue
			}
			out[id] = target{link: l.Name, ctrl: ctrl, sign: drv.Sign(ctrl)}
		}
	}
	return out
}

// awsID returns the file id of a sign the importer may control.
func awsID(ctrl *comm.Controller) (int, bool) {
	raw, ok := ctrl.Param(ParamID)
	if !ok {
		return 0, false
	}
	if allowed, ok := ctrl.Param(ParamAllowed); ok {
		if v, err := strconv.ParseBool(allowed); err == nil && !v {
			return 0, false
		}
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// send queues m on the sign unless it is already displayed.
func (im *Importer) send(t target, m Message) (bool, error) {
	next := m.SignMessage()
	if cur, ok := t.sign.Current(); ok && sameText(cur, next) {
		return false, nil
	}

	op := ntcip.NewSendMessage(t.ctrl, t.sign, next)
	if err := im.cfg.Links.Enqueue(t.link, op); err != nil {
		return false, err
	}
	im.cfg.Logger.Debug("aws message queued", "link", t.link, "controller", t.ctrl.Name(), "multi", next.Multi)
	return true, nil
}

func sameText(a, b ntcip.SignMessage) bool {
	if a.IsBlank() || b.IsBlank() {
		return a.IsBlank() && b.IsBlank()
	}
	return a.Multi == b.Multi
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
