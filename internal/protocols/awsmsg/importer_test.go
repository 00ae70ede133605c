package awsmsg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/ntcip"
)

type fakeLinks struct {
	mu      sync.Mutex
	drivers map[string]comm.Driver
	status  []comm.LinkStatus
	ctrls   map[string]*comm.Controller
	queued  map[string][]*comm.Operation
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		drivers: make(map[string]comm.Driver),
		ctrls:   make(map[string]*comm.Controller),
		queued:  make(map[string][]*comm.Operation),
	}
}

func (f *fakeLinks) add(link string, d comm.Driver, ctrls ...*comm.Controller) {
	st := comm.LinkStatus{Name: link, Protocol: d.Protocol()}
	for _, c := range ctrls {
		f.ctrls[link+"/"+c.Name()] = c
		st.Controllers = append(st.Controllers, comm.ControllerStatus{Name: c.Name(), Link: link})
	}
	f.drivers[link] = d
	f.status = append(f.status, st)
}

func (f *fakeLinks) Links() []comm.LinkStatus { return f.status }

func (f *fakeLinks) Controller(link, name string) (*comm.Controller, bool) {
	c, ok := f.ctrls[link+"/"+name]
	return c, ok
}

func (f *fakeLinks) Driver(link string) (comm.Driver, bool) {
	d, ok := f.drivers[link]
	return d, ok
}

func (f *fakeLinks) Enqueue(link string, op *comm.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[link] = append(f.queued[link], op)
	return nil
}

func (f *fakeLinks) count(link string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued[link])
}

// otherDriver is a non-sign driver whose controllers must be ignored.
type otherDriver struct{}

func (otherDriver) Protocol() string                                            { return "smartsensor" }
func (otherDriver) NewSession(comm.LinkSpec, comm.Logger) (comm.Session, error) { return nil, nil }
func (otherDriver) Framer() comm.Framer                                         { return nil }
func (otherDriver) Coalesce() comm.CoalesceFunc                                 { return nil }

type signFixture struct {
	links  *fakeLinks
	driver *ntcip.Driver
	dms39  *comm.Controller
}

func newSignFixture() signFixture {
	d := ntcip.NewDriver(nil)
	dms39 := comm.NewController("dms-39", "signs", 1, map[string]string{ParamID: "39"})
	links := newFakeLinks()
	links.add("signs", d,
		dms39,
		comm.NewController("dms-40", "signs", 2, map[string]string{ParamID: "40", ParamAllowed: "false"}),
		comm.NewController("dms-plain", "signs", 3, nil),
	)
	links.add("sensors", otherDriver{},
		comm.NewController("rd-41", "sensors", 1, map[string]string{ParamID: "41"}),
	)
	return signFixture{links: links, driver: d, dms39: dms39}
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func line(id, row string) string {
	return "20260301063000;" + id + ";1 Page (Normal);Single Stroke;Single Stroke;" + row + ";;;;;;2"
}

func TestImporter_SendsToOptedInSigns(t *testing.T) {
	fx := newSignFixture()
	path := filepath.Join(t.TempDir(), "aws.txt")
	writeFile(t, path,
		line("39", "FOG"),
		line("40", "NOT ALLOWED"),
		line("41", "NOT A SIGN"),
		"garbage",
		"",
	)

	im := NewImporter(Config{Path: path, Links: fx.links, Location: time.UTC})
	res, err := im.Import(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Lines: 4, Invalid: 1, Sent: 1, Unmatched: 2}, res)
	require.Equal(t, 1, fx.links.count("signs"))
	op := fx.links.queued["signs"][0]
	assert.Same(t, fx.dms39, op.Controller())
	assert.Equal(t, "send DMS message", op.Description())
	assert.Equal(t, comm.PriorityCommand, op.Priority())
}

func TestImporter_SkipsMessageAlreadyShown(t *testing.T) {
	fx := newSignFixture()
	path := filepath.Join(t.TempDir(), "aws.txt")
	writeFile(t, path, line("39", "OLD"), line("39", "FOG"))

	shown, err := Parse(line("39", "FOG"), DefaultFonts, time.UTC)
	require.NoError(t, err)
	sign := fx.driver.Sign(fx.dms39)
	sign.SetCurrent(shown.SignMessage())

	im := NewImporter(Config{Path: path, Links: fx.links, Location: time.UTC})
	res, err := im.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged, "the last line for a sign wins")
	assert.Zero(t, res.Sent)
	assert.Zero(t, fx.links.count("signs"))
}

func TestImporter_PutsBackChangedSign(t *testing.T) {
	fx := newSignFixture()
	path := filepath.Join(t.TempDir(), "aws.txt")
	writeFile(t, path, line("39", "FOG"))

	shown, err := Parse(line("39", "FOG"), DefaultFonts, time.UTC)
	require.NoError(t, err)
	sign := fx.driver.Sign(fx.dms39)
	sign.SetCurrent(shown.SignMessage())

	im := NewImporter(Config{Path: path, Links: fx.links, Location: time.UTC})
	res, err := im.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	sign.SetCurrent(ntcip.SignMessage{Multi: "OPERATOR TEXT", Priority: ntcip.PriorityOperator, Source: ntcip.SourceOperator})

	res, err = im.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent, "an unchanged file is applied again")
	assert.Equal(t, 1, fx.links.count("signs"))
}

func TestImporter_ReportOnlyWhenFileChanges(t *testing.T) {
	fx := newSignFixture()
	dir := t.TempDir()
	path := filepath.Join(dir, "aws.txt")
	report := filepath.Join(dir, "aws-report.log")
	writeFile(t, path, line("39", "FOG"), line("41", "ICE"))

	im := NewImporter(Config{Path: path, ReportPath: report, Links: fx.links, Location: time.UTC})
	im.now = func() time.Time { return time.Date(2026, time.March, 1, 6, 30, 0, 0, time.UTC) }

	_, err := im.Import(context.Background())
	require.NoError(t, err)
	_, err = im.Import(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t,
		"2026-03-01 06:30:00, 39, FOG /  /  /  /  / \n"+
			"2026-03-01 06:30:00, 41, ICE /  /  /  /  / \n",
		string(data))

	writeFile(t, path, line("39", "FOG"), line("41", "ICE"), line("42", "WIND"))
	_, err = im.Import(context.Background())
	require.NoError(t, err)

	data, err = os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(data), "\n"))
}

func TestImporter_MissingFile(t *testing.T) {
	fx := newSignFixture()
	im := NewImporter(Config{Path: filepath.Join(t.TempDir(), "none.txt"), Links: fx.links})

	_, err := im.Import(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestImporter_PrefersFirstLinkForSharedSign(t *testing.T) {
	d := ntcip.NewDriver(nil)
	params := map[string]string{ParamID: "39", "sign": "I-5 NB 12.4"}
	primary := comm.NewController("dms-39", "signs", 1, params)
	backup := comm.NewController("dms-39-alt", "signs-backup", 1, params)
	links := newFakeLinks()
	links.add("signs", d, primary)
	links.add("signs-backup", d, backup)

	path := filepath.Join(t.TempDir(), "aws.txt")
	writeFile(t, path, line("39", "FOG"))

	im := NewImporter(Config{Path: path, Links: links, Location: time.UTC})
	res, err := im.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, links.count("signs"))
	assert.Zero(t, links.count("signs-backup"))
}

func TestImporter_StartStop(t *testing.T) {
	fx := newSignFixture()
	path := filepath.Join(t.TempDir(), "aws.txt")
	writeFile(t, path, line("39", "FOG"))

	im := NewImporter(Config{Path: path, Interval: 10 * time.Millisecond, Links: fx.links, Location: time.UTC})
	im.Start(context.Background())

	// the sign never shows the message, so every read queues it again
	assert.Eventually(t, func() bool { return fx.links.count("signs") >= 2 }, time.Second, 5*time.Millisecond)
	im.Stop()
	im.Stop()

	n := fx.links.count("signs")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, fx.links.count("signs"), "no imports after Stop")
}
