package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dineseek/dineseek/pkg/models"
)

func TestValidLatLng(t *testing.T) {
	tests := []struct {
		name  string
		point models.LatLng
		want  bool
	}{
		{name: "tel aviv", point: models.LatLng{Lat: 32.0853, Lng: 34.7818}, want: true},
		{name: "null island", point: models.LatLng{Lat: 0, Lng: 0}, want: true},
		{name: "poles", point: models.LatLng{Lat: -90, Lng: 180}, want: true},
		{name: "lat out of range", point: models.LatLng{Lat: 99, Lng: 0}, want: false},
		{name: "lng out of range", point: models.LatLng{Lat: 0, Lng: 200}, want: false},
		{name: "nan", point: models.LatLng{Lat: math.NaN(), Lng: 0}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validLatLng(tt.point))
		})
	}
}

func TestHaversineMeters(t *testing.T) {
	telAviv := models.LatLng{Lat: 32.0853, Lng: 34.7818}
	jerusalem := models.LatLng{Lat: 31.7683, Lng: 35.2137}

	d := haversineMeters(telAviv, jerusalem)

	assert.InDelta(t, 54000, d, 2500, "Tel Aviv to Jerusalem is about 54 km")
	assert.Zero(t, haversineMeters(telAviv, telAviv))
}
