package sink

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/retry"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

const mopResultsURL = "https://api.oresults.eu/meos"

const (
	statOK  = 1
	statMP  = 3
	statDNF = 4
	statOOC = 15
	statDNS = 20
)

// mopCompetitor mirrors one <cmp><base> entry of a MOP roster file.
type mopCompetitor struct {
	ID    int
	Name  string
	Club  int
	Card  int
	CatID string
	Stat  int
	Start *time.Duration
	Total *time.Duration
}

type mopXMLBase struct {
	Org  string `xml:"org,attr"`
	St   string `xml:"st,attr"`
	Rt   string `xml:"rt,attr"`
	Cls  string `xml:"cls,attr"`
	Stat string `xml:"stat,attr"`
	Name string `xml:",chardata"`
}

type mopXMLCmp struct {
	ID   string     `xml:"id,attr"`
	Base mopXMLBase `xml:"base"`
}

type mopXMLRoot struct {
	XMLName xml.Name    `xml:"MOPDiff"`
	Xmlns   string      `xml:"xmlns,attr"`
	Cmp     mopXMLCmp   `xml:"cmp"`
}

// Mop posts competitor result diffs to OResults' Meos Online Protocol
// endpoint, updating an in-memory roster as punches arrive.
type Mop struct {
	apiKey            string
	defaultStartOffset time.Duration
	client            *http.Client
	backoff           *retry.BackoffRetries[mopXMLRoot, bool]

	mu      sync.Mutex
	roster  []mopCompetitor
	byCard  map[int]int // card -> index into roster
}

// NewMop builds a MOP sink. mopXMLPath, if non-empty, is loaded at
// construction as the initial roster. defaultStartOffset is applied when a
// competitor's finish arrives with no recorded start; 0 selects the 10h
// default. No configuration key sets it: the sinks built from the
// configuration pass 0.
func NewMop(apiKey, mopXMLPath string, defaultStartOffset time.Duration) *Mop {
	if defaultStartOffset == 0 {
		defaultStartOffset = 10 * time.Hour
	}
	m := &Mop{
		apiKey:             apiKey,
		defaultStartOffset: defaultStartOffset,
		client:             &http.Client{Timeout: 20 * time.Second},
		byCard:             make(map[int]int),
	}
	m.backoff = retry.NewBackoffRetries(m.post, false, 3*time.Second, 2.0, 50*time.Second)
	if mopXMLPath != "" {
		if err := m.loadRoster(mopXMLPath); err != nil {
			logging.Error("mop: failed to load roster file", zap.String("path", mopXMLPath), zap.Error(err))
		}
	}
	return m
}

func (m *Mop) Name() string { return "mop" }

// Loop is a no-op: MOP is a stateless HTTP client.
func (m *Mop) Loop(ctx context.Context) {
	<-ctx.Done()
}

func parseIntPtr(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func (m *Mop) loadRoster(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	type xmlCls struct {
		ID   string `xml:"id,attr"`
		Name string `xml:",chardata"`
	}
	type xmlCmpEl struct {
		ID   string     `xml:"id,attr"`
		Card string     `xml:"card,attr"`
		Base mopXMLBase `xml:"base"`
	}
	type xmlRoot struct {
		Cls []xmlCls   `xml:"cls"`
		Cmp []xmlCmpEl `xml:"cmp"`
	}
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = m.roster[:0]
	for i, c := range root.Cmp {
		comp := mopCompetitor{
			ID:    parseIntPtr(c.ID),
			Card:  parseIntPtr(c.Card),
			Name:  c.Base.Name,
			Club:  parseIntPtr(c.Base.Org),
			Stat:  parseIntPtr(c.Base.Stat),
			CatID: c.Base.Cls,
		}
		m.roster = append(m.roster, comp)
		m.byCard[comp.Card] = i
	}
	return nil
}

// updatePunch folds an SI punch into the matching competitor's roster entry;
// code 1 sets the start time, code 2 computes the finish split (using
// defaultStartOffset when no start was recorded). SendPunch posts the result.
func (m *Mop) updatePunch(punch sicodec.Punch) (mopCompetitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byCard[int(punch.Card)]
	if !ok {
		return mopCompetitor{}, false
	}
	comp := &m.roster[idx]
	midnight := time.Date(punch.Time.Year(), punch.Time.Month(), punch.Time.Day(), 0, 0, 0, 0, punch.Time.Location())
	elapsed := punch.Time.Sub(midnight)

	switch punch.Code {
	case 1:
		comp.Start = &elapsed
	case 2:
		var total time.Duration
		if comp.Start == nil {
			total = elapsed - m.defaultStartOffset
		} else {
			total = elapsed - *comp.Start
		}
		comp.Total = &total
		comp.Stat = statOK
	}
	return *comp, true
}

// SendPunch updates the roster entry for punch.Card and re-posts its diff.
func (m *Mop) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	comp, ok := m.updatePunch(punch)
	if !ok {
		logging.Error("mop: competitor not in roster", zap.Uint32("card", punch.Card))
		return false
	}
	root := m.buildDiff(comp)
	_, sent := m.backoff.Submit(ctx, root)
	return sent
}

func (m *Mop) buildDiff(comp mopCompetitor) mopXMLRoot {
	st := "-1"
	if comp.Start != nil {
		st = strconv.Itoa(int(comp.Start.Seconds() * 10))
	}
	rt := "0"
	if comp.Total != nil {
		rt = strconv.Itoa(int(comp.Total.Seconds() * 10))
	}
	return mopXMLRoot{
		Xmlns: "http://www.melin.nu/mop",
		Cmp: mopXMLCmp{
			ID: strconv.Itoa(comp.ID),
			Base: mopXMLBase{
				Org:  strconv.Itoa(comp.Club),
				St:   st,
				Rt:   rt,
				Cls:  comp.CatID,
				Stat: strconv.Itoa(comp.Stat),
				Name: comp.Name,
			},
		},
	}
}

func (m *Mop) post(ctx context.Context, root mopXMLRoot) (bool, error) {
	body, err := xml.Marshal(root)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mopResultsURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("pwd", m.apiKey)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logging.Error("mop: post unsuccessful", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
		return false, nil
	}
	logging.Info("mop: sent to oresults")
	return true, nil
}

// SendStatus is a no-op: MOP carries no status channel.
func (m *Mop) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	return true
}

func (m *Mop) Close() error { return nil }
