package sink

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/retry"
	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

const (
	rocSendPunchURL   = "https://roc.olresultat.se/ver7.1/sendpunches_v2.php"
	rocReceiveDataURL = "https://roc.olresultat.se/ver7.1/receivedata.php"
)

// Roc posts punches and telemetry to the ROC cloud aggregator.
type Roc struct {
	macAddr string
	client  *http.Client

	punchBackoff  *retry.BackoffRetries[url.Values, bool]
	statusBackoff *retry.BackoffRetries[url.Values, bool]
}

// NewRoc builds a ROC sink identified by macAddr in its outgoing fields.
func NewRoc(macAddr string) *Roc {
	r := &Roc{
		macAddr: macAddr,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	r.punchBackoff = retry.NewBackoffRetries(r.postForm(rocSendPunchURL), false, time.Second, 2.0, 50*time.Second)
	r.statusBackoff = retry.NewBackoffRetries(r.getForm(rocReceiveDataURL), false, time.Second, 2.0, 50*time.Second)
	return r
}

func (r *Roc) Name() string { return "roc:" + r.macAddr }

// Loop is a no-op: ROC is a stateless HTTP client with no persistent connection.
func (r *Roc) Loop(ctx context.Context) {
	<-ctx.Done()
}

func digitCount(x int) int {
	if x < 0 {
		x = -x
	}
	n := 1
	for x >= 10 {
		x /= 10
		n++
	}
	return n
}

// SendPunch posts a sendpunches_v2 form for punch.
func (r *Roc) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	now := time.Now()
	length := 118 + digitCount(int(punch.Code)) + digitCount(int(punch.Card)) + digitCount(punch.Mode)
	data := url.Values{
		"control1":   {strconv.Itoa(int(punch.Code))},
		"sinumber1":  {strconv.Itoa(int(punch.Card))},
		"stationmode1": {strconv.Itoa(punch.Mode)},
		"date1":      {punch.Time.Format("2006-01-02")},
		"sitime1":    {punch.Time.Format("15:04:05")},
		"ms1":        {fmt.Sprintf("%03d", punch.Time.Nanosecond()/1_000_000)},
		"roctime1":   {now.Format("2006-01-02 15:04:05")},
		"macaddr":    {r.macAddr},
		"1":          {"f"},
		"length":     {strconv.Itoa(length)},
	}
	_, ok := r.punchBackoff.Submit(ctx, data)
	return ok
}

// SendStatus forwards mini_call_home telemetry and dev_event attach/detach
// notices via the callhome GET endpoint; disconnected is a no-op for ROC.
func (r *Roc) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	var data url.Values
	switch {
	case status.MiniCallHome != nil:
		m := status.MiniCallHome
		data = url.Values{
			"function":        {"callhome"},
			"command":         {"setmini"},
			"macaddr":         {macAddr},
			"failedcallhomes": {"0"},
			"localipaddress":  {ipToString(m.LocalIP)},
			"codes":           {m.Codes},
			"totaldatatx":     {strconv.FormatUint(m.TotalDataTxKB, 10)},
			"totaldatarx":     {strconv.FormatUint(m.TotalDataRxKB, 10)},
			"signaldBm":       {strconv.Itoa(int(m.SignalDbm))},
			"temperature":     {fmt.Sprintf("%.0f", m.CPUTemperature)},
			"networktype":     {m.NetworkType},
			"volts":           {fmt.Sprintf("%.1f", m.Volts)},
			"minFreq":         {strconv.Itoa(int(m.MinFreq) * 20)},
			"maxFreq":         {strconv.Itoa(int(m.MaxFreq) * 20)},
			"freq":            {strconv.Itoa(int(m.Freq) * 20)},
		}
	case status.DevEvent != nil:
		codes := "siadded-" + status.DevEvent.Port
		if !status.DevEvent.Added {
			codes = "siremoved-" + status.DevEvent.Port
		}
		data = url.Values{
			"function": {"callhome"},
			"command":  {"setmini"},
			"macaddr":  {macAddr},
			"codes":    {codes},
		}
	default:
		return true
	}
	_, ok := r.statusBackoff.Submit(ctx, data)
	return ok
}

func ipToString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

func (r *Roc) postForm(target string) retry.SendFunc[url.Values, bool] {
	return func(ctx context.Context, data url.Values) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(data.Encode()))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := r.client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		ok := resp.StatusCode == http.StatusOK
		logging.Debug("roc send_punch response", zap.Int("status", resp.StatusCode))
		return ok, nil
	}
}

func (r *Roc) getForm(target string) retry.SendFunc[url.Values, bool] {
	return func(ctx context.Context, data url.Values) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+data.Encode(), nil)
		if err != nil {
			return false, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		ok := resp.StatusCode == http.StatusOK
		logging.Debug("roc callhome response", zap.Int("status", resp.StatusCode))
		return ok, nil
	}
}

func (r *Roc) Close() error { return nil }
