package forecast

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
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/common"
	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// peakWindowFraction is the share of the day's maximum irradiance an hour
// must reach to count as part of the peak window.
const peakWindowFraction = 0.7

// OpenMeteo implements the Service interface against the Open-Meteo API,
// which needs no credentials.
type OpenMeteo struct {
	client  *http.Client
	baseURL string
}

func newOpenMeteo() *OpenMeteo {
	return &OpenMeteo{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: "https://api.open-meteo.com",
	}
}

type openMeteoResponse struct {
	Timezone string `json:"timezone"`
	Hourly   struct {
		Time               []string  `json:"time"`
		ShortwaveRadiation []float64 `json:"shortwave_radiation"`
		CloudCover         []float64 `json:"cloud_cover"`
		Temperature2M      []float64 `json:"temperature_2m"`
	} `json:"hourly"`
	Daily struct {
		Sunrise []string `json:"sunrise"`
		Sunset  []string `json:"sunset"`
	} `json:"daily"`
}

// GetForecast returns today's hourly irradiance forecast for the given
// coordinates along with sunrise/sunset and the peak window.
func (o *OpenMeteo) GetForecast(ctx context.Context, latitude, longitude float64) (types.ForecastSnapshot, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', 4, 64))
	params.Set("hourly", "shortwave_radiation,cloud_cover,temperature_2m")
	params.Set("daily", "sunrise,sunset")
	params.Set("timezone", "auto")
	params.Set("forecast_days", "1")

	u, err := url.Parse(o.baseURL)
	if err != nil {
		return types.ForecastSnapshot{}, err
	}
	u.Path, err = url.JoinPath(u.Path, "v1/forecast")
	if err != nil {
		return types.ForecastSnapshot{}, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.ForecastSnapshot{}, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return types.ForecastSnapshot{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ForecastSnapshot{}, err
	}
	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "open-meteo api error", slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
		return types.ForecastSnapshot{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var res openMeteoResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode open-meteo response", slog.Any("error", err))
		return types.ForecastSnapshot{}, fmt.Errorf("failed to decode open-meteo response: %w", err)
	}

	loc, err := time.LoadLocation(res.Timezone)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load forecast timezone, defaulting to UTC", slog.String("tz", res.Timezone), slog.Any("error", err))
		loc = time.UTC
	}

	snap := types.ForecastSnapshot{Timestamp: time.Now()}

	if len(res.Daily.Sunrise) > 0 {
		snap.Sunrise, err = time.ParseInLocation("2006-01-02T15:04", res.Daily.Sunrise[0], loc)
		if err != nil {
			return types.ForecastSnapshot{}, fmt.Errorf("failed to parse sunrise: %w", err)
		}
	}
	if len(res.Daily.Sunset) > 0 {
		snap.Sunset, err = time.ParseInLocation("2006-01-02T15:04", res.Daily.Sunset[0], loc)
		if err != nil {
			return types.ForecastSnapshot{}, fmt.Errorf("failed to parse sunset: %w", err)
		}
	}

	h := res.Hourly
	if len(h.ShortwaveRadiation) != len(h.Time) || len(h.CloudCover) != len(h.Time) || len(h.Temperature2M) != len(h.Time) {
		log.Ctx(ctx).WarnContext(ctx, "open-meteo hourly array length mismatch",
			slog.Int("times", len(h.Time)),
			slog.Int("radiation", len(h.ShortwaveRadiation)),
		)
		return types.ForecastSnapshot{}, errors.New("unexpected array length in response")
	}

	for i, ts := range h.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, loc)
		if err != nil {
			return types.ForecastSnapshot{}, fmt.Errorf("failed to parse hour %q: %w", ts, err)
		}
		snap.Hourly = append(snap.Hourly, types.ForecastHour{
			Hour:          t.Format("15:04"),
			IrradianceWM2: h.ShortwaveRadiation[i],
			CloudCoverPct: h.CloudCover[i],
			TemperatureC:  h.Temperature2M[i],
		})
	}

	snap.PeakWindowStart, snap.PeakWindowEnd = peakWindow(snap.Hourly)

	log.Ctx(ctx).DebugContext(ctx, "fetched solar forecast",
		slog.Time("sunrise", snap.Sunrise),
		slog.Time("sunset", snap.Sunset),
		slog.String("peakStart", snap.PeakWindowStart),
		slog.String("peakEnd", snap.PeakWindowEnd),
		slog.Int("hours", len(snap.Hourly)),
	)

	return snap, nil
}

// peakWindow returns the first and last hours whose irradiance reaches the
// peak fraction of the day's maximum. Both are empty when there is no sun.
func peakWindow(hours []types.ForecastHour) (string, string) {
	var maxIrr float64
	for _, h := range hours {
		if h.IrradianceWM2 > maxIrr {
			maxIrr = h.IrradianceWM2
		}
	}
	if maxIrr <= 0 {
		return "", ""
	}

	threshold := maxIrr * peakWindowFraction
	var start, end string
	for _, h := range hours {
		if h.IrradianceWM2 >= threshold {
			if start == "" {
				start = h.Hour
			}
			end = h.Hour
		}
	}
	return start, end
}
