package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// runFFmpeg invokes ffmpeg with a hard wall-clock timeout. On timeout the
// subprocess is killed and a timeout error is returned; on failure the tail
// of the combined output is attached so codec errors are diagnosable.
func runFFmpeg(ctx context.Context, timeout time.Duration, args ...string) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, "ffmpeg", append([]string{"-hide_banner", "-y"}, args...)...)
	output, err := cmd.CombinedOutput()
	if callCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("ffmpeg timed out after %s", timeout)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tailOf(output, 400))
	}
	return nil
}

func tailOf(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// probeDuration returns the container duration in seconds.
func probeDuration(path string) (float64, error) {
	cmd := exec.Command("ffprobe", "-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
}

// streamProfile describes the encoding properties that decide whether clips
// can be concatenated by stream copy.
type streamProfile struct {
	Width      int
	Height     int
	FrameRate  string
	PixFmt     string
	VideoCodec string
	AudioCodec string
}

// canonicalProfile is the normalization target for the safe concat path.
var canonicalProfile = streamProfile{
	Width:      1280,
	Height:     720,
	FrameRate:  "30/1",
	PixFmt:     "yuv420p",
	VideoCodec: "h264",
	AudioCodec: "aac",
}

func probeStreamProfile(path string) (streamProfile, error) {
	cmd := exec.Command("ffprobe", "-v", "error",
		"-show_streams", "-of", "json", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return streamProfile{}, fmt.Errorf("ffprobe streams %s: %w", path, err)
	}

	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			PixFmt     string `json:"pix_fmt"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return streamProfile{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var p streamProfile
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			p.Width = s.Width
			p.Height = s.Height
			p.FrameRate = s.RFrameRate
			p.PixFmt = s.PixFmt
			p.VideoCodec = s.CodecName
		case "audio":
			p.AudioCodec = s.CodecName
		}
	}
	if p.VideoCodec == "" {
		return streamProfile{}, fmt.Errorf("no video stream in %s", path)
	}
	return p, nil
}

var (
	lavfiOnce    sync.Once
	lavfiOK      bool
	drawtextOnce sync.Once
	drawtextOK   bool
)

// hasLavfiSupport probes once whether synthetic sources (color + silence)
// are available, gating title cards and transitions.
func hasLavfiSupport() bool {
	lavfiOnce.Do(func() {
		lavfiOK = ffmpegListContains("-filters", "color") || ffmpegListContains("-sources", "lavfi")
	})
	return lavfiOK
}

// hasDrawtextSupport probes once whether the drawtext filter was compiled in.
func hasDrawtextSupport() bool {
	drawtextOnce.Do(func() {
		drawtextOK = ffmpegListContains("-filters", "drawtext")
	})
	return drawtextOK
}

func ffmpegListContains(flag, needle string) bool {
	cmd := exec.Command("ffmpeg", "-hide_banner", flag)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return false
	}
	return strings.Contains(out.String(), needle)
}
