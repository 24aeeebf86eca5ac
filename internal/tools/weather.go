package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avezina/tripd/internal/domain"
)

// AMapWeather fetches multi-day forecasts from the AMap weather API.
// Without an API key it serves deterministic mock data so the system runs
// end-to-end unconfigured.
type AMapWeather struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	geocoder Geocoder
	policy   RetryPolicy
	health   *Health
	now      func() time.Time
}

// NewAMapWeather creates a weather adapter. The geocoder supplies adcodes for
// cities outside the static table.
func NewAMapWeather(apiKey string, geocoder Geocoder, policy RetryPolicy, health *Health) *AMapWeather {
	return &AMapWeather{
		apiKey:   apiKey,
		baseURL:  "https://restapi.amap.com/v3/weather/weatherInfo",
		client:   &http.Client{},
		geocoder: geocoder,
		policy:   policy,
		health:   health,
		now:      time.Now,
	}
}

type amapForecastResponse struct {
	Status    string `json:"status"`
	Info      string `json:"info"`
	Forecasts []struct {
		City  string `json:"city"`
		Casts []struct {
			Date         string `json:"date"`
			DayWeather   string `json:"dayweather"`
			NightWeather string `json:"nightweather"`
			DayTemp      string `json:"daytemp"`
			NightTemp    string `json:"nighttemp"`
		} `json:"casts"`
	} `json:"forecasts"`
}

// Forecast returns up to days of forecast entries for the city.
func (w *AMapWeather) Forecast(ctx context.Context, city string, days int) Result[[]domain.WeatherDay] {
	if days < 1 {
		days = 1
	}
	if w.apiKey == "" {
		return Success(w.mockForecast(city, days))
	}

	adcode := ""
	if ref, ok := LookupCity(city); ok {
		adcode = ref.Adcode
	} else if w.geocoder != nil {
		resolved := w.geocoder.Resolve(ctx, city)
		if !resolved.Ok() {
			return Result[[]domain.WeatherDay]{Status: resolved.Status, Reason: resolved.Reason}
		}
		adcode = resolved.Payload.Adcode
	}
	if adcode == "" {
		return Failure[[]domain.WeatherDay](fmt.Sprintf("no adcode for city %q", city))
	}

	return Invoke(ctx, "weather", w.policy, w.health, func(ctx context.Context) Result[[]domain.WeatherDay] {
		q := url.Values{}
		q.Set("key", w.apiKey)
		q.Set("city", adcode)
		q.Set("extensions", "all")
		q.Set("output", "JSON")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return Failure[[]domain.WeatherDay](fmt.Sprintf("build weather request: %v", err))
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return Unavailable[[]domain.WeatherDay](fmt.Sprintf("weather request: %v", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return Unavailable[[]domain.WeatherDay](fmt.Sprintf("weather status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return Failure[[]domain.WeatherDay](fmt.Sprintf("weather status %d", resp.StatusCode))
		}

		var body amapForecastResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Failure[[]domain.WeatherDay](fmt.Sprintf("decode weather response: %v", err))
		}
		if body.Status != "1" || len(body.Forecasts) == 0 {
			return Failure[[]domain.WeatherDay](fmt.Sprintf("weather lookup failed: %s", body.Info))
		}

		fc := body.Forecasts[0]
		out := make([]domain.WeatherDay, 0, days)
		for _, cast := range fc.Casts {
			if len(out) >= days {
				break
			}
			dayTemp, _ := strconv.ParseFloat(cast.DayTemp, 64)
			nightTemp, _ := strconv.ParseFloat(cast.NightTemp, 64)
			condition := cast.DayWeather
			if condition == "" {
				condition = cast.NightWeather
			}
			out = append(out, domain.WeatherDay{
				City:      city,
				Date:      cast.Date,
				Condition: condition,
				DayTemp:   dayTemp,
				NightTemp: nightTemp,
			})
		}
		if len(out) == 0 {
			return Failure[[]domain.WeatherDay]("weather response had no forecast days")
		}
		return Success(out)
	})
}

func (w *AMapWeather) mockForecast(city string, days int) []domain.WeatherDay {
	out := make([]domain.WeatherDay, 0, days)
	base := w.now()
	for i := 0; i < days; i++ {
		out = append(out, domain.WeatherDay{
			City:      city,
			Date:      base.AddDate(0, 0, i).Format("2006-01-02"),
			Condition: "晴",
			DayTemp:   float64(12 + i),
			NightTemp: float64(6 + i),
			Mock:      true,
		})
	}
	return out
}
