package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-rod/rod"
	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/shuttlebot/route"
)

// ---------------------------------------------------------------------------
// Grid parsing
// ---------------------------------------------------------------------------

func cell(text string) string {
	return `<div class="cl-grid-cell cl-layout-item"><div class="cl-text">` + text + `</div></div>`
}

func inputCell(value string) string {
	return `<div class="cl-grid-cell"><input class="cl-text" value="` + value + `"></div>`
}

func row(cells ...string) string {
	return `<div class="cl-grid-row">` + strings.Join(cells, "") + `</div>`
}

const gridHeader = `<div class="cl-grid-row cl-grid-header"></div><div class="cl-grid-row cl-grid-header"></div>`

func TestParse(t *testing.T) {
	page := `<html><body><div class="cl-grid">` + gridHeader +
		row(cell("K1"), cell("통학"), cell("101"), cell("45인승"), cell("구미"), cell("옥계-학교"), cell("45/45")) +
		row(cell("K2"), cell("통학"), cell("102"), cell("45인승"), cell("대구"), cell("  칠곡-학교 "), inputCell("12/45")) +
		row(cell("K3"), cell("통근")) +
		row(cell("N1"), cell("야간"), cell("201"), cell("25인승"), cell("구미"), cell("학교-인동"), cell("마감")) +
		`</div></body></html>`

	got, err := Parse(strings.NewReader(page), nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []route.Route{
		{ID: "K1", BusType: "통학", BusNumber: "101", Vehicle: "45인승", Region: "구미", Detail: "옥계-학교", Occupied: 45, Total: 45},
		{ID: "K2", BusType: "통학", BusNumber: "102", Vehicle: "45인승", Region: "대구", Detail: "칠곡-학교", Occupied: 12, Total: 45},
		{ID: "N1", BusType: "야간", BusNumber: "201", Vehicle: "25인승", Region: "구미", Detail: "학교-인동", Occupied: 0, Total: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NormalizesIDs(t *testing.T) {
	// WHAT: a lowercase portal ID is stored in the form users type it in.
	// WHY: watch lookups go through route.NormalizeID.
	page := `<html><body>` + gridHeader +
		row(cell(" k7 "), cell("통학"), cell("107"), cell("45인승"), cell("구미"), cell("옥계-학교"), cell("3/45")) +
		`</body></html>`

	got, err := Parse(strings.NewReader(page), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("routes: got %d, want 1", len(got))
	}
	if got[0].ID != route.NormalizeID("k7") {
		t.Errorf("ID = %q, want %q", got[0].ID, route.NormalizeID("k7"))
	}
}

func TestParse_NoRows(t *testing.T) {
	got, err := Parse(strings.NewReader(`<html><body>`+gridHeader+`</body></html>`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d routes, want 0", len(got))
	}
}

func TestCellTextMissing(t *testing.T) {
	page := `<html><body>` + gridHeader +
		row(`<div class="cl-grid-cell"></div>`, cell("a"), cell("b"), cell("c"), cell("d"), cell("e"), cell("1/2")) +
		`</body></html>`
	got, err := Parse(strings.NewReader(page), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "" || got[0].Total != 2 {
		t.Errorf("got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Fetch error handling
// ---------------------------------------------------------------------------

type scriptedSession struct {
	errs     []error
	acquires int
	releases int
}

func (s *scriptedSession) Acquire(ctx context.Context, fn func(*rod.Page) error) error {
	s.acquires++
	if len(s.errs) == 0 {
		return errors.New("unscripted")
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSession) Release() error {
	s.releases++
	return nil
}

func TestFetch_StaleFrameRetriesOnce(t *testing.T) {
	sess := &scriptedSession{errs: []error{
		fmt.Errorf("%w: timeout", errStaleFrame),
		errors.New("login failed"),
	}}
	s := New(sess, Config{UserID: "u", Password: "p"})

	_, err := s.Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "login failed") {
		t.Fatalf("want login failure, got %v", err)
	}
	if sess.acquires != 2 {
		t.Errorf("acquires: got %d, want 2", sess.acquires)
	}
	if sess.releases != 2 {
		t.Errorf("releases: got %d, want 2 (stale frame + final failure)", sess.releases)
	}
}

func TestFetch_ErrorReleasesSession(t *testing.T) {
	sess := &scriptedSession{errs: []error{errors.New("navigate: net::ERR_NAME_NOT_RESOLVED")}}
	s := New(sess, Config{})

	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("want error")
	}
	if sess.acquires != 1 || sess.releases != 1 {
		t.Errorf("acquires=%d releases=%d, want 1/1", sess.acquires, sess.releases)
	}
}

func TestConfigDefaults(t *testing.T) {
	s := New(&scriptedSession{}, Config{})
	if s.cfg.URL != DefaultURL {
		t.Errorf("url: %q", s.cfg.URL)
	}
	if s.cfg.PageTimeout <= 0 || s.cfg.SettleDelay <= 0 || s.cfg.LoginDelay <= 0 || s.cfg.ReuseTimeout <= 0 {
		t.Errorf("timeouts not defaulted: %+v", s.cfg)
	}
}
