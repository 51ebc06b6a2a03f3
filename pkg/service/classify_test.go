package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"", DeviceDesktop},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", DeviceDesktop},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1", DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0 Mobile Safari/537.36", DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 13; SM-X700) Chrome/120.0 Safari/537.36", DeviceTablet},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Safari/604.1", DeviceTablet},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", DeviceBot},
		{"curl/8.4.0", DeviceBot},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyDevice(tt.ua), tt.ua)
	}
}

func TestClassifyBrowser(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 OPR/106.0", "Opera"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", "Chrome"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15", "Safari"},
		{"Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:11.0) like Gecko", "IE"},
		{"curl/8.4.0", "Other"},
		{"", "Other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyBrowser(tt.ua), tt.ua)
	}
}

func TestClassifyCountry(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"127.0.0.1", "Local"},
		{"10.1.2.3", "Local"},
		{"192.168.0.10", "Local"},
		{"172.16.5.4", "Local"},
		{"::1", "Local"},
		{"fe80::1", "Local"},
		{"8.8.8.8", "Unknown"},
		{"not-an-ip", "Unknown"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCountry(tt.ip), tt.ip)
	}
}
