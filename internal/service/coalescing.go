package service

import (
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// requestCoalescer collapses concurrent fetches for the same key into one call.
// The in-flight marker for a key is dropped as soon as its call returns, so a
// later miss starts a fresh fetch.
type requestCoalescer struct {
	group singleflight.Group
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{}
}

// Do runs fn once per key among concurrent callers and hands every caller the
// same snapshot. joined is true for callers that waited on another caller's fn.
func (rc *requestCoalescer) Do(key string, fn func() models.WeatherSnapshot) (snap models.WeatherSnapshot, joined bool) {
	ran := false
	v, _, _ := rc.group.Do(key, func() (interface{}, error) {
		ran = true
		return fn(), nil
	})
	return v.(models.WeatherSnapshot), !ran
}
