package useragent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/headline-goat/splitpage/internal/useragent"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		browser string
		os      string
		device  string
	}{
		{
			name:    "chrome windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			browser: useragent.BrowserChrome,
			os:      useragent.OSWindows,
			device:  useragent.DeviceDesktop,
		},
		{
			name:    "safari iphone",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
			browser: useragent.BrowserSafari,
			os:      useragent.OSiOS,
			device:  useragent.DeviceMobile,
		},
		{
			name:    "edge",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51",
			browser: useragent.BrowserEdge,
			os:      useragent.OSWindows,
			device:  useragent.DeviceDesktop,
		},
		{
			name:    "android tablet",
			ua:      "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser: useragent.BrowserChrome,
			os:      useragent.OSAndroid,
			device:  useragent.DeviceTablet,
		},
		{
			name:    "firefox mac",
			ua:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
			browser: useragent.BrowserFirefox,
			os:      useragent.OSMacOS,
			device:  useragent.DeviceDesktop,
		},
		{
			name:    "googlebot",
			ua:      "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			browser: useragent.BrowserUnknown,
			os:      useragent.OSUnknown,
			device:  useragent.DeviceBot,
		},
		{
			name:    "ie11",
			ua:      "Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:11.0) like Gecko",
			browser: useragent.BrowserIE,
			os:      useragent.OSWindows,
			device:  useragent.DeviceDesktop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ua := useragent.Parse(tt.ua)
			assert.Equal(t, tt.browser, ua.Browser)
			assert.Equal(t, tt.os, ua.OS)
			assert.Equal(t, tt.device, ua.Device)
		})
	}
}

func TestLegacyAndBots(t *testing.T) {
	assert.True(t, useragent.Parse("Mozilla/4.0 (compatible; MSIE 8.0; Windows NT 6.1)").IsLegacy())

	bot := useragent.Parse("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.True(t, bot.IsBot())
	assert.Equal(t, "Googlebot", bot.BotName())

	assert.Equal(t, useragent.DeviceUnknown, useragent.Parse("").Device)
}
