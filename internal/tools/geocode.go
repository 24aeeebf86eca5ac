package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// cityEntry maps a city to its canonical English name and AMap adcode.
type cityEntry struct {
	Name   string
	Adcode string
}

// cityTable covers the common cities so resolution works offline. Unknown
// cities fall through to the geocoding API when a key is configured.
var cityTable = map[string]cityEntry{
	"北京": {"Beijing", "110000"}, "上海": {"Shanghai", "310000"},
	"广州": {"Guangzhou", "440100"}, "深圳": {"Shenzhen", "440300"},
	"杭州": {"Hangzhou", "330100"}, "南京": {"Nanjing", "320100"},
	"苏州": {"Suzhou", "320500"}, "成都": {"Chengdu", "510100"},
	"重庆": {"Chongqing", "500000"}, "西安": {"Xian", "610100"},
	"武汉": {"Wuhan", "420100"}, "长沙": {"Changsha", "430100"},
	"天津": {"Tianjin", "120000"}, "青岛": {"Qingdao", "370200"},
	"厦门": {"Xiamen", "350200"}, "三亚": {"Sanya", "460200"},
}

// englishIndex is the reverse lookup for already-normalized names.
var englishIndex = func() map[string]cityEntry {
	m := make(map[string]cityEntry, len(cityTable))
	for _, e := range cityTable {
		m[strings.ToLower(e.Name)] = e
	}
	return m
}()

// KnownCityNames returns every name the static table can match in free text,
// native names first. Used by the router's deterministic slot extractor.
func KnownCityNames() []string {
	out := make([]string, 0, len(cityTable)*2)
	for native := range cityTable {
		out = append(out, native)
	}
	for english := range englishIndex {
		out = append(out, english)
	}
	return out
}

// LookupCity resolves a name against the static table only.
func LookupCity(name string) (CityRef, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(name), "市")
	if e, ok := cityTable[trimmed]; ok {
		return CityRef{Name: e.Name, Adcode: e.Adcode}, true
	}
	if e, ok := englishIndex[strings.ToLower(trimmed)]; ok {
		return CityRef{Name: e.Name, Adcode: e.Adcode}, true
	}
	return CityRef{}, false
}

// AMapGeocoder resolves city names via the static table, then the AMap
// geocoding API. Without an API key unknown cities resolve to themselves
// with an empty adcode so planning can proceed in mock mode.
type AMapGeocoder struct {
	apiKey  string
	baseURL string
	client  *http.Client
	policy  RetryPolicy
	health  *Health
}

// NewAMapGeocoder creates a geocoder adapter.
func NewAMapGeocoder(apiKey string, policy RetryPolicy, health *Health) *AMapGeocoder {
	return &AMapGeocoder{
		apiKey:  apiKey,
		baseURL: "https://restapi.amap.com/v3/geocode/geo",
		client:  &http.Client{},
		policy:  policy,
		health:  health,
	}
}

type amapGeoResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		City   string `json:"city"`
		Adcode string `json:"adcode"`
	} `json:"geocodes"`
}

// Resolve maps a free-form city name to a canonical reference.
func (g *AMapGeocoder) Resolve(ctx context.Context, city string) Result[CityRef] {
	if ref, ok := LookupCity(city); ok {
		return Success(ref)
	}
	if g.apiKey == "" {
		// Mock mode: pass the name through so downstream caveats name it.
		return Success(CityRef{Name: strings.TrimSpace(city)})
	}

	return Invoke(ctx, "geocoder", g.policy, g.health, func(ctx context.Context) Result[CityRef] {
		q := url.Values{}
		q.Set("key", g.apiKey)
		q.Set("address", city)
		q.Set("output", "JSON")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return Failure[CityRef](fmt.Sprintf("build geocode request: %v", err))
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return Unavailable[CityRef](fmt.Sprintf("geocode request: %v", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return Unavailable[CityRef](fmt.Sprintf("geocode status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return Failure[CityRef](fmt.Sprintf("geocode status %d", resp.StatusCode))
		}

		var body amapGeoResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Failure[CityRef](fmt.Sprintf("decode geocode response: %v", err))
		}
		if body.Status != "1" || len(body.Geocodes) == 0 {
			return Failure[CityRef](fmt.Sprintf("geocode lookup failed: %s", body.Info))
		}
		name := body.Geocodes[0].City
		if name == "" {
			name = city
		}
		return Success(CityRef{Name: strings.TrimSuffix(name, "市"), Adcode: body.Geocodes[0].Adcode})
	})
}
