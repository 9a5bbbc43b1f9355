package solar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/common"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

const solaxRealtimePath = "proxyApp/proxy/api/getRealtimeInfo.do"

// inverterStatusNames maps Solax status codes to readable names. Unknown
// codes are passed through as-is.
var inverterStatusNames = map[string]string{
	"100": "Wait",
	"101": "Check",
	"102": "Normal",
	"103": "Fault",
	"104": "Permanent Fault",
	"105": "Update",
	"106": "EPS Check",
	"107": "EPS Mode",
	"108": "Self Test",
	"109": "Idle",
	"110": "Standby",
}

// Solax implements the Inverter interface for the SolaxCloud API.
type Solax struct {
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	tokenID  string
	dongleSN string
	settings types.Settings
}

func newSolax() *Solax {
	return &Solax{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: "https://www.solaxcloud.com",
	}
}

// ApplySettings applies the given settings and credentials to the Solax struct.
func (s *Solax) ApplySettings(ctx context.Context, settings types.Settings, creds types.Credentials) error {
	if creds.Solax == nil {
		return errors.New("missing solax credentials")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.tokenID = creds.Solax.TokenID
	s.dongleSN = creds.Solax.DongleSN
	return nil
}

type solaxResponse struct {
	Success   bool            `json:"success"`
	Exception string          `json:"exception"`
	Result    json.RawMessage `json:"result"`
}

type solaxRealtimeResult struct {
	ACPowerW       float64 `json:"acpower"`
	YieldTodayKWH  float64 `json:"yieldtoday"`
	FeedinPowerW   float64 `json:"feedinpower"`
	BatterySOC     float64 `json:"soc"`
	BatteryPowerW  float64 `json:"batPower"`
	PowerDC1       float64 `json:"powerdc1"`
	PowerDC2       float64 `json:"powerdc2"`
	PowerDC3       float64 `json:"powerdc3"`
	PowerDC4       float64 `json:"powerdc4"`
	ConsumeEnergy  float64 `json:"consumeenergy"`
	InverterStatus string  `json:"inverterStatus"`
	UploadTime     string  `json:"uploadTime"`
}

func (s *Solax) getRealtime(ctx context.Context) (solaxRealtimeResult, error) {
	params := url.Values{}
	params.Set("tokenId", s.tokenID)
	params.Set("sn", s.dongleSN)

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return solaxRealtimeResult{}, err
	}
	u.Path, err = url.JoinPath(u.Path, solaxRealtimePath)
	if err != nil {
		return solaxRealtimeResult{}, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return solaxRealtimeResult{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return solaxRealtimeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return solaxRealtimeResult{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return solaxRealtimeResult{}, err
	}

	var sr solaxResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode solax response", slog.Any("error", err), slog.String("body", string(body)))
		return solaxRealtimeResult{}, err
	}
	if !sr.Success {
		if sr.Exception == "" {
			log.Ctx(ctx).ErrorContext(ctx, "solax api unknown error", slog.String("body", string(body)))
			return solaxRealtimeResult{}, errors.New("solax unknown error")
		}
		log.Ctx(ctx).ErrorContext(ctx, "solax api error", slog.String("exception", sr.Exception))
		return solaxRealtimeResult{}, fmt.Errorf("solax api error: %s", sr.Exception)
	}

	var res solaxRealtimeResult
	if err := json.Unmarshal(sr.Result, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode solax result", slog.Any("error", err))
		return solaxRealtimeResult{}, fmt.Errorf("failed to decode solax result: %w", err)
	}
	return res, nil
}

// GetSnapshot returns the current production and grid flow readings.
func (s *Solax) GetSnapshot(ctx context.Context) (types.SolarSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokenID == "" || s.dongleSN == "" {
		return types.SolarSnapshot{}, errors.New("missing solax credentials")
	}

	res, err := s.getRealtime(ctx)
	if err != nil {
		return types.SolarSnapshot{}, err
	}

	// String production is reported per MPPT input; total PV is their sum.
	solarW := res.PowerDC1 + res.PowerDC2 + res.PowerDC3 + res.PowerDC4
	if solarW < 0 {
		solarW = 0
	}

	// feedinpower is signed: positive means exporting to the grid, negative
	// means importing from it.
	var importW, exportW float64
	if res.FeedinPowerW >= 0 {
		exportW = res.FeedinPowerW
	} else {
		importW = -res.FeedinPowerW
	}

	status := res.InverterStatus
	if name, ok := inverterStatusNames[status]; ok {
		status = name
	}

	snap := types.SolarSnapshot{
		Timestamp: time.Now(),
		SolarW:    solarW,
		// AC output staying in the house plus whatever the grid is covering.
		HouseholdW:         res.ACPowerW - res.FeedinPowerW,
		GridImportW:        importW,
		GridExportW:        exportW,
		BatterySOC:         res.BatterySOC,
		BatteryW:           res.BatteryPowerW,
		YieldTodayKWH:      res.YieldTodayKWH,
		GridImportMeterKWH: res.ConsumeEnergy,
		InverterStatus:     status,
	}

	log.Ctx(ctx).DebugContext(ctx, "solax realtime data",
		slog.Float64("solarW", snap.SolarW),
		slog.Float64("householdW", snap.HouseholdW),
		slog.Float64("importW", snap.GridImportW),
		slog.Float64("exportW", snap.GridExportW),
		slog.Float64("meterKWH", snap.GridImportMeterKWH),
		slog.String("status", snap.InverterStatus),
	)

	return snap, nil
}

// TestConnection verifies the credentials by fetching a realtime reading.
func (s *Solax) TestConnection(ctx context.Context) error {
	_, err := s.GetSnapshot(ctx)
	return err
}
