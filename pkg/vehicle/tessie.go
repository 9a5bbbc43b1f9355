package vehicle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/common"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// Tessie implements the API interface using the Tessie cloud API, which
// proxies the vehicle's own connection so we never have to wake it.
type Tessie struct {
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	apiKey   string
	vin      string
	settings types.Settings
}

func newTessie() *Tessie {
	return &Tessie{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: "https://api.tessie.com",
	}
}

// ApplySettings applies the given settings and credentials to the Tessie struct.
func (t *Tessie) ApplySettings(ctx context.Context, settings types.Settings, creds types.Credentials) error {
	if creds.Tessie == nil {
		return errors.New("missing tessie credentials")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = settings
	t.apiKey = creds.Tessie.APIKey
	t.vin = creds.Tessie.VIN
	return nil
}

func (t *Tessie) newRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, t.vin, endpoint)
	if err != nil {
		return nil, err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	return req, nil
}

func (t *Tessie) doRequest(req *http.Request, dest interface{}) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "tessie api error",
			slog.Int("status", resp.StatusCode),
			slog.String("path", req.URL.Path),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode tessie response", slog.Any("error", err))
			return fmt.Errorf("failed to decode tessie response: %w", err)
		}
	}
	return nil
}

type tessieState struct {
	ChargeState struct {
		BatteryLevel        int     `json:"battery_level"`
		ChargingState       string  `json:"charging_state"`
		ChargerActualAmps   int     `json:"charger_actual_current"`
		ChargerVoltage      int     `json:"charger_voltage"`
		ChargerPowerKW      float64 `json:"charger_power"`
		EnergyAddedKWH      float64 `json:"charge_energy_added"`
		ChargeLimitSOC      int     `json:"charge_limit_soc"`
		MinutesToFullCharge int     `json:"minutes_to_full_charge"`
	} `json:"charge_state"`
	DriveState struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"drive_state"`
}

// GetState returns the current charge and drive state. It always uses
// Tessie's cached state so the vehicle is never woken just to be read.
func (t *Tessie) GetState(ctx context.Context) (types.VehicleSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.apiKey == "" || t.vin == "" {
		return types.VehicleSnapshot{}, errors.New("missing tessie credentials")
	}

	params := url.Values{}
	params.Set("use_cache", "true")
	req, err := t.newRequest(ctx, "GET", "state", params)
	if err != nil {
		return types.VehicleSnapshot{}, err
	}

	var res tessieState
	if err := t.doRequest(req, &res); err != nil {
		return types.VehicleSnapshot{}, err
	}

	cs := res.ChargeState
	snap := types.VehicleSnapshot{
		Timestamp:           time.Now(),
		PlugConnected:       cs.ChargingState != "" && cs.ChargingState != string(types.ChargingStateDisconnected),
		ChargingState:       parseChargingState(cs.ChargingState),
		BatteryLevel:        cs.BatteryLevel,
		ChargerActualAmps:   cs.ChargerActualAmps,
		ChargerVoltage:      cs.ChargerVoltage,
		ChargingKW:          cs.ChargerPowerKW,
		EnergyAddedKWH:      cs.EnergyAddedKWH,
		ChargeLimitSOC:      cs.ChargeLimitSOC,
		MinutesToFullCharge: cs.MinutesToFullCharge,
		Latitude:            res.DriveState.Latitude,
		Longitude:           res.DriveState.Longitude,
	}

	log.Ctx(ctx).DebugContext(ctx, "tessie vehicle state",
		slog.Bool("plugged", snap.PlugConnected),
		slog.String("state", string(snap.ChargingState)),
		slog.Int("soc", snap.BatteryLevel),
		slog.Int("amps", snap.ChargerActualAmps),
		slog.Float64("energyAddedKWH", snap.EnergyAddedKWH),
	)

	return snap, nil
}

// parseChargingState folds the vehicle's transient states into the ones the
// control loop cares about.
func parseChargingState(s string) types.ChargingState {
	switch s {
	case "Charging", "Starting":
		return types.ChargingStateCharging
	case "Complete":
		return types.ChargingStateComplete
	case "Disconnected", "":
		return types.ChargingStateDisconnected
	default:
		// Stopped, NoPower and anything new
		return types.ChargingStateStopped
	}
}

type tessieLocation struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Address       string  `json:"address"`
	SavedLocation string  `json:"saved_location"`
}

// GetLocation returns the vehicle's resolved location, including any
// user-named saved location (like "Home").
func (t *Tessie) GetLocation(ctx context.Context) (types.LocationSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.apiKey == "" || t.vin == "" {
		return types.LocationSnapshot{}, errors.New("missing tessie credentials")
	}

	req, err := t.newRequest(ctx, "GET", "location", nil)
	if err != nil {
		return types.LocationSnapshot{}, err
	}

	var res tessieLocation
	if err := t.doRequest(req, &res); err != nil {
		return types.LocationSnapshot{}, err
	}

	return types.LocationSnapshot{
		Timestamp:     time.Now(),
		Latitude:      res.Latitude,
		Longitude:     res.Longitude,
		Address:       res.Address,
		SavedLocation: res.SavedLocation,
	}, nil
}

type tessieCommandResult struct {
	Result bool   `json:"result"`
	Reason string `json:"reason"`
}

func (t *Tessie) command(ctx context.Context, endpoint string, params url.Values) error {
	if t.apiKey == "" || t.vin == "" {
		return errors.New("missing tessie credentials")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("retry_duration", "40")
	params.Set("wait_for_completion", "true")

	req, err := t.newRequest(ctx, "POST", "command/"+endpoint, params)
	if err != nil {
		return err
	}

	var res tessieCommandResult
	if err := t.doRequest(req, &res); err != nil {
		return err
	}
	if !res.Result {
		if res.Reason == "" {
			res.Reason = "unknown"
		}
		log.Ctx(ctx).ErrorContext(ctx, "tessie command rejected",
			slog.String("command", endpoint),
			slog.String("reason", res.Reason),
		)
		return fmt.Errorf("command %s rejected: %s", endpoint, res.Reason)
	}
	log.Ctx(ctx).InfoContext(ctx, "tessie command succeeded", slog.String("command", endpoint))
	return nil
}

// StartCharging tells the vehicle to begin charging.
func (t *Tessie) StartCharging(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(ctx, "start_charging", nil)
}

// StopCharging tells the vehicle to stop charging.
func (t *Tessie) StopCharging(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(ctx, "stop_charging", nil)
}

// SetChargingAmps sets the charging amperage.
func (t *Tessie) SetChargingAmps(ctx context.Context, amps int) error {
	if amps < MinChargeAmps || amps > MaxChargeAmps {
		return fmt.Errorf("amps %d outside allowed range [%d, %d]", amps, MinChargeAmps, MaxChargeAmps)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	params := url.Values{}
	params.Set("amps", strconv.Itoa(amps))
	return t.command(ctx, "set_charging_amps", params)
}

// TestConnection verifies the credentials by fetching the vehicle state.
func (t *Tessie) TestConnection(ctx context.Context) error {
	_, err := t.GetState(ctx)
	return err
}
