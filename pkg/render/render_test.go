package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kyosol/kyosol/pkg/types"
)

var testConfig = types.SiteConfig{
	Location:              "Japan",
	BatteryCapacityKWH:    7.0,
	BatteryReservePercent: 30,
}

func TestStatus(t *testing.T) {
	t.Run("FullPayload", func(t *testing.T) {
		raw := json.RawMessage(`{
			"clock": {"now": "2026-08-29T14:30:00+09:00"},
			"consumed": {"value": 2.0, "unit": "kW"},
			"pv": {"value": 3.5, "unit": "kW"},
			"purchased": {"value": 0, "unit": "kW"},
			"sold": {"value": 1.5, "unit": "kW"},
			"gentotal": {"value": 12345.6, "unit": "kWh"},
			"reduced_co2": {"value": 789.01, "unit": "kg"},
			"battery": {
				"remaining_rate": {"value": 72, "unit": "%"},
				"charge": {"value": 0.8, "unit": "kW"},
				"discharge": {"value": 0, "unit": "kW"}
			},
			"weather": {"zone_name": "Kyoto", "weather_icon": "sunny"},
			"meteorol": {"temp": 28, "humidity": 45}
		}`)

		out := Status(raw, testConfig)
		assert.Contains(t, out, "Kyocera Solar")
		assert.Contains(t, out, "Saturday, August 29")
		assert.Contains(t, out, "2:30 PM")
		assert.Contains(t, out, "Kyoto", "weather zone overrides the config location")
		assert.Contains(t, out, "28°C")
		assert.NotContains(t, out, "humidity", "45% humidity is not notable")
		assert.Contains(t, out, "3.5 kW", "solar output")
		assert.Contains(t, out, "+1.5 kW", "grid export carries a plus sign")
		assert.Contains(t, out, " 72%")
		assert.Contains(t, out, "to 100%", "charging battery shows a time-to-full estimate")
		assert.Contains(t, out, "12345.6 kWh generated")
		assert.Contains(t, out, "789.01 kg")
		assert.Contains(t, out, "7.0 kWh total · 4.9 kWh usable · 30% reserve")
	})

	t.Run("GridImportNegative", func(t *testing.T) {
		raw := json.RawMessage(`{"purchased": {"value": 1.2}, "consumed": {"value": 1.2}}`)
		out := Status(raw, testConfig)
		assert.Contains(t, out, " -1.2 kW")
	})

	t.Run("DischargeETA", func(t *testing.T) {
		raw := json.RawMessage(`{
			"battery": {
				"remaining_rate": {"value": 80},
				"discharge": {"value": 0.5}
			}
		}`)
		// (80-30)% of 7 kWh at 0.5 kW = 7h0m
		out := Status(raw, testConfig)
		assert.Contains(t, out, "(7h)")
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		out := Status(json.RawMessage(`{}`), testConfig)
		assert.Contains(t, out, "unknown")
		assert.Contains(t, out, "Japan", "config location is the fallback")
		assert.NotContains(t, out, "Battery  ", "no battery block without battery data")
	})

	t.Run("StatusMessage", func(t *testing.T) {
		raw := json.RawMessage(`{"status": {"message": "System check required"}}`)
		out := Status(raw, testConfig)
		assert.Contains(t, out, "System check required")
	})

	t.Run("Deterministic", func(t *testing.T) {
		raw := json.RawMessage(`{"pv": {"value": 1}}`)
		assert.Equal(t, Status(raw, testConfig), Status(raw, testConfig))
	})
}

func TestBar(t *testing.T) {
	full := bar(100, "")
	assert.Equal(t, 10, strings.Count(full, "█"))
	assert.Equal(t, 0, strings.Count(full, "░"))

	half := bar(50, "")
	assert.Equal(t, 5, strings.Count(half, "█"))
	assert.Equal(t, 5, strings.Count(half, "░"))

	empty := bar(0, "")
	assert.Equal(t, 0, strings.Count(empty, "█"))
	assert.Equal(t, 10, strings.Count(empty, "░"))
}
