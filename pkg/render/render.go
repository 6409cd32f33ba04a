// Package render formats the realtime snapshot for the terminal. It is a
// pure function of the portal payload and the site config; the payload shape
// is owned by the portal, so every field is optional here.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kyosol/kyosol/pkg/types"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	yellow = "\033[93m"
	green  = "\033[92m"
	cyan   = "\033[96m"
	red    = "\033[91m"
	orange = "\033[38;5;208m"
	gray   = "\033[90m"
)

type metric struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

func (m metric) val() float64 {
	if m.Value == nil {
		return 0
	}
	return *m.Value
}

type batteryBlock struct {
	RemainingRate metric `json:"remaining_rate"`
	Charge        metric `json:"charge"`
	Discharge     metric `json:"discharge"`
	Status        int    `json:"status"`
}

type snapshot struct {
	Clock struct {
		Now  string `json:"now"`
		Time string `json:"time"`
	} `json:"clock"`
	Status struct {
		Message string `json:"message"`
	} `json:"status"`
	Consumed   metric        `json:"consumed"`
	PV         metric        `json:"pv"`
	Purchased  metric        `json:"purchased"`
	Sold       metric        `json:"sold"`
	GenTotal   metric        `json:"gentotal"`
	ReducedCO2 metric        `json:"reduced_co2"`
	Battery    *batteryBlock `json:"battery"`
	Weather    struct {
		ZoneName    string `json:"zone_name"`
		WeatherIcon string `json:"weather_icon"`
	} `json:"weather"`
	Meteorol struct {
		Temp          *float64 `json:"temp"`
		Humidity      *float64 `json:"humidity"`
		CloudCover    *float64 `json:"tcdc_surface"`
		Precipitation *float64 `json:"apcp_surface"`
		WindVelocity  *float64 `json:"wind_velocity"`
		WindDirection string   `json:"wind_direction"`
	} `json:"meteorol"`
}

var weatherEmoji = map[string]string{
	"sunny":         "☀️",
	"clear":         "☀️",
	"cloudy":        "☁️",
	"partly_cloudy": "⛅",
	"rainy":         "🌧️",
	"rain":          "🌧️",
	"snow":          "🌨️",
	"storm":         "⛈️",
	"thunderstorm":  "⛈️",
	"fog":           "🌫️",
	"mist":          "🌫️",
}

func bar(percent float64, color string) string {
	filled := int(percent / 10)
	if filled > 10 {
		filled = 10
	}
	if filled < 0 {
		filled = 0
	}
	return color + strings.Repeat("█", filled) + gray + strings.Repeat("░", 10-filled) + reset
}

// Status renders the snapshot as a multi-line ANSI summary.
func Status(raw json.RawMessage, cfg types.SiteConfig) string {
	var s snapshot
	// fields the payload doesn't carry simply render as zero/absent
	_ = json.Unmarshal(raw, &s)

	timeStr := s.Clock.Time
	dateStr := "unknown date"
	if timeStr == "" {
		timeStr = "unknown"
	}
	if dt, err := time.Parse(time.RFC3339, s.Clock.Now); err == nil {
		timeStr = dt.Format("3:04 PM")
		dateStr = dt.Format("Monday, January 02")
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, bold+cyan+"🌇 Kyocera Solar"+reset)
	lines = append(lines, gray+dateStr+" · "+timeStr+reset)

	if s.Status.Message != "" {
		lines = append(lines, red+"⚠️  "+s.Status.Message+reset)
	}

	lines = append(lines, weatherLine(s, cfg))
	lines = append(lines, "")

	pv := s.PV.val()
	consumed := s.Consumed.val()
	purchased := s.Purchased.val()
	sold := s.Sold.val()

	if pv > 0 {
		lines = append(lines, fmt.Sprintf("🔆 Solar           %s%s%5.1f kW%s", yellow, bold, pv, reset))
	} else {
		lines = append(lines, fmt.Sprintf("🌙 Solar           %s%5.1f kW%s", gray, pv, reset))
	}

	switch {
	case purchased > 0:
		lines = append(lines, fmt.Sprintf("⚡ Grid            %s%5.1f kW%s", red, -purchased, reset))
	case sold > 0:
		lines = append(lines, fmt.Sprintf("⚡ Grid            %s%+5.1f kW%s", green, sold, reset))
	default:
		lines = append(lines, fmt.Sprintf("⚡ Grid            %s%5.1f kW%s", gray, 0.0, reset))
	}

	var discharge float64
	if s.Battery != nil {
		discharge = s.Battery.Discharge.val()
		if line := batteryLine(s.Battery, cfg); line != "" {
			lines = append(lines, line)
		}
	}

	if consumed > 0 {
		clean := math.Min((pv+discharge)/consumed*100, 100)
		color, icon := orange, "⚡"
		switch {
		case clean >= 75:
			color, icon = green, "🌱"
		case clean >= 50:
			color, icon = yellow, "♻️"
		}
		lines = append(lines, fmt.Sprintf("🏡 Home            %s%5.1f kW%s  [%s] %s%3.0f%%%s %s",
			cyan, consumed, reset, bar(clean, color), color, clean, reset, icon))
	} else {
		lines = append(lines, fmt.Sprintf("🏡 Home            %s%5.1f kW%s", cyan, consumed, reset))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%sLifetime: %.1f kWh generated · %.2f kg CO₂ saved%s",
		gray, s.GenTotal.val(), s.ReducedCO2.val(), reset))

	usable := cfg.BatteryCapacityKWH * float64(100-cfg.BatteryReservePercent) / 100
	lines = append(lines, fmt.Sprintf("%sBattery: %.1f kWh total · %.1f kWh usable · %d%% reserve%s",
		gray, cfg.BatteryCapacityKWH, usable, cfg.BatteryReservePercent, reset))

	return strings.Join(lines, "\n")
}

func weatherLine(s snapshot, cfg types.SiteConfig) string {
	location := cfg.Location
	if s.Weather.ZoneName != "" {
		location = s.Weather.ZoneName
	}
	emoji := "🌤️"
	if e, ok := weatherEmoji[strings.ToLower(s.Weather.WeatherIcon)]; ok {
		emoji = e
	}

	parts := []string{location}
	met := s.Meteorol
	if met.Temp != nil {
		parts = append(parts, fmt.Sprintf("%.0f°C", *met.Temp))
	}
	// humidity only when notable: very dry or humid
	if met.Humidity != nil && (*met.Humidity < 30 || *met.Humidity > 60) {
		parts = append(parts, fmt.Sprintf("💦 %.0f%% humidity", *met.Humidity))
	}
	if met.CloudCover != nil && *met.CloudCover > 5 {
		parts = append(parts, fmt.Sprintf("☁️  %.0f%% clouds", *met.CloudCover))
	}
	if met.Precipitation != nil && *met.Precipitation > 0 {
		parts = append(parts, fmt.Sprintf("☔ %.1fmm rain", *met.Precipitation))
	}
	if met.WindVelocity != nil && *met.WindVelocity > 5 {
		wind := fmt.Sprintf("%.1f m/s", *met.WindVelocity)
		if met.WindDirection != "" {
			wind += " " + met.WindDirection
		}
		parts = append(parts, "💨 "+wind)
	}

	return gray + emoji + "  " + strings.Join(parts, " · ") + reset
}

func batteryLine(b *batteryBlock, cfg types.SiteConfig) string {
	if b.RemainingRate.Value == nil {
		return ""
	}
	remaining := *b.RemainingRate.Value
	charge := b.Charge.val()
	discharge := b.Discharge.val()

	color := red
	switch {
	case remaining > 60:
		color = green
	case remaining > 30:
		color = yellow
	}

	var power string
	switch {
	case charge > 0:
		power = fmt.Sprintf("%s%+5.1f kW%s", green, charge, reset)
	case discharge > 0:
		power = fmt.Sprintf("%s%5.1f kW%s", red, -discharge, reset)
	default:
		power = fmt.Sprintf("%s%5.1f kW%s", gray, 0.0, reset)
	}

	emoji := "🔋"
	if remaining <= 30 {
		emoji = "🪫"
	}

	return fmt.Sprintf("%s Battery         %s  [%s] %s%3.0f%%%s%s",
		emoji, power, bar(remaining, color), color, remaining, reset, batteryETA(remaining, charge, discharge, cfg))
}

// batteryETA estimates time to full while charging or time until the reserve
// floor while discharging.
func batteryETA(remaining, charge, discharge float64, cfg types.SiteConfig) string {
	if charge > 0.05 && remaining < 100 {
		kwh := (100 - remaining) / 100 * cfg.BatteryCapacityKWH
		hours := kwh / charge
		if hours >= 1 {
			return fmt.Sprintf(" %s(~%dh to 100%%)%s", gray, int(math.Round(hours)), reset)
		}
		return fmt.Sprintf(" %s(%dm to 100%%)%s", gray, int(hours*60), reset)
	}

	reserve := float64(cfg.BatteryReservePercent)
	if discharge > 0.05 && remaining > reserve {
		kwh := (remaining - reserve) / 100 * cfg.BatteryCapacityKWH
		hours := kwh / discharge
		if hours >= 1 {
			h := int(hours)
			m := int((hours - float64(h)) * 60)
			if m > 0 {
				return fmt.Sprintf(" %s(%dh%02dm)%s", gray, h, m, reset)
			}
			return fmt.Sprintf(" %s(%dh)%s", gray, h, reset)
		}
		return fmt.Sprintf(" %s(%dm)%s", gray, int(hours*60), reset)
	}
	return ""
}
