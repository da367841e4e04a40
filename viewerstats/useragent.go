package viewerstats

import "strings"

// clientLabel buckets a raw user agent into a coarse player type so the
// metric stays low cardinality and carries no identifying data.
func clientLabel(userAgent string) string {
	switch {
	case userAgent == "":
		return "other"
	case strings.Contains(userAgent, "ExoPlayer"):
		return "exoplayer"
	case strings.Contains(userAgent, "Lavf"):
		return "ffmpeg"
	case strings.Contains(userAgent, "VLC"):
		return "vlc"
	case strings.Contains(userAgent, "libmpv"):
		return "mpv"
	case strings.Contains(userAgent, "Edg"):
		return "edge"
	case strings.Contains(userAgent, "Chrome"):
		return "chrome"
	case strings.Contains(userAgent, "Firefox"):
		return "firefox"
	// hls.js players ship the browser agent, native Safari playback is
	// what actually hits this bucket
	case strings.Contains(userAgent, "Safari"):
		return "safari"
	}
	return "other"
}
