package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

func TestRedisCache_Put(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer client.Close()
	c := NewRedisCache(client, 2*time.Hour)

	snap := models.WeatherSnapshot{Temperature: intPtr(31), FetchedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	raw, _ := json.Marshal(snap)
	mock.ExpectSet("weather:da nang", raw, 2*time.Hour).SetVal("OK")

	if err := c.Put(context.Background(), "da nang", snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet redis expectations: %v", err)
	}
}

func TestRedisCache_Get(t *testing.T) {
	snap := models.WeatherSnapshot{Temperature: intPtr(31), FetchedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	raw, _ := json.Marshal(snap)

	tests := []struct {
		name    string
		setup   func(mock redismock.ClientMock)
		wantOK  bool
		wantErr bool
	}{
		{
			name:   "hit",
			setup:  func(mock redismock.ClientMock) { mock.ExpectGet("weather:da nang").SetVal(string(raw)) },
			wantOK: true,
		},
		{
			name:  "miss",
			setup: func(mock redismock.ClientMock) { mock.ExpectGet("weather:da nang").RedisNil() },
		},
		{
			name:    "error",
			setup:   func(mock redismock.ClientMock) { mock.ExpectGet("weather:da nang").SetErr(errors.New("connection refused")) },
			wantErr: true,
		},
		{
			name:    "corrupt value",
			setup:   func(mock redismock.ClientMock) { mock.ExpectGet("weather:da nang").SetVal("{not json") },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			defer client.Close()
			tt.setup(mock)

			got, ok, err := NewRedisCache(client, 0).Get(context.Background(), "da nang")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("Get() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.Temperature == nil || *got.Temperature != 31 || !got.FetchedAt.Equal(snap.FetchedAt)) {
				t.Errorf("Get() = %+v, want %+v", got, snap)
			}
		})
	}
}
