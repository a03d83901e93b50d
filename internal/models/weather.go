package models

import (
	"strings"
	"time"
)

// DefaultIconURLTemplate is the OpenWeatherMap icon asset URL; %s is the icon id.
const DefaultIconURLTemplate = "https://openweathermap.org/img/wn/%s@4x.png"

// WeatherSnapshot is a point-in-time weather reading for one city.
// Nil fields were absent from the upstream response (or the fetch failed).
type WeatherSnapshot struct {
	Temperature *int      `json:"temperature"` // °C, rounded
	Description *string   `json:"description"`
	IconID      *string   `json:"icon"`
	Humidity    *int      `json:"humidity"`
	WindSpeed   *float64  `json:"windSpeed"` // m/s
	FetchedAt   time.Time `json:"fetchedAt"`
	Stale       bool      `json:"stale,omitempty"` // Served as fallback after a failed refresh
}

// FailedSnapshot returns the all-absent snapshot recorded when a fetch fails.
func FailedSnapshot(now time.Time) WeatherSnapshot {
	return WeatherSnapshot{FetchedAt: now}
}

// HasData reports whether any reading field is present.
func (s WeatherSnapshot) HasData() bool {
	return s.Temperature != nil || s.Description != nil || s.IconID != nil ||
		s.Humidity != nil || s.WindSpeed != nil
}

// IconURL derives the icon asset URL from template, or "" when the snapshot has no icon.
func (s WeatherSnapshot) IconURL(template string) string {
	if s.IconID == nil || *s.IconID == "" {
		return ""
	}
	if template == "" {
		template = DefaultIconURLTemplate
	}
	return strings.Replace(template, "%s", *s.IconID, 1)
}
