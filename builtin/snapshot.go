package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// MIMEJPEG is the content type of snapshot frames.
const MIMEJPEG = "image/jpeg"

// AssetSink stores blobs and returns their id and relative URL.
type AssetSink interface {
	Put(mime string, data []byte) (id, url string, err error)
}

type frameSize struct {
	width, height, quality int
}

var qualities = map[string]frameSize{
	"low":  {width: 160, height: 120, quality: 40},
	"mid":  {width: 320, height: 240, quality: 70},
	"high": {width: 640, height: 480, quality: 90},
}

// Snapshot renders a test pattern JPEG on each call. It stands in for a
// camera: frames go to the asset store and the reply carries the relative
// asset URL, which the emitter resolves against the device base URL.
type Snapshot struct {
	assets AssetSink

	mu    sync.Mutex
	frame int
	last  []byte
}

var _ tool.Tool = (*Snapshot)(nil)

// NewSnapshot creates the snapshot tool writing frames to assets.
func NewSnapshot(assets AssetSink) *Snapshot {
	return &Snapshot{assets: assets}
}

func (*Snapshot) Name() string { return "snapshot" }

func (*Snapshot) Describe() tool.Description {
	return tool.Description{
		Name:        "snapshot",
		Description: "Capture image (quality: low|mid|high, flash: on|off)",
		Parameters: tool.ObjectSchema(map[string]any{
			"quality": map[string]any{"type": "string", "enum": []string{"low", "mid", "high"}},
			"flash":   map[string]any{"type": "string", "enum": []string{"on", "off"}},
		}, "quality", "flash"),
	}
}

func (s *Snapshot) Invoke(_ context.Context, args json.RawMessage, out *observation.Builder) bool {
	var req struct {
		Quality string `json:"quality"`
		Flash   string `json:"flash"`
	}
	if err := tool.Args(args, &req); err != nil {
		out.Error(observation.CodeInvalidArgs, err.Error())
		return false
	}
	size, ok := qualities[req.Quality]
	if !ok {
		out.Error(observation.CodeInvalidArgs, "quality must be low|mid|high")
		return false
	}
	if req.Flash != "on" && req.Flash != "off" {
		out.Error(observation.CodeInvalidArgs, "flash must be on|off")
		return false
	}

	s.mu.Lock()
	s.frame++
	frame := s.frame
	s.mu.Unlock()

	data, err := renderFrame(size, frame, req.Flash == "on")
	if err != nil {
		out.Error("capture_failed", err.Error())
		return false
	}

	id, url, err := s.assets.Put(MIMEJPEG, data)
	if err != nil {
		out.Error("capture_failed", err.Error())
		return false
	}

	s.mu.Lock()
	s.last = data
	s.mu.Unlock()

	out.Success("captured").AddAsset(observation.Asset{
		AssetID: id,
		Kind:    "image",
		Mime:    MIMEJPEG,
		URL:     url,
	})
	return true
}

// Last returns the most recent frame, or nil before the first capture.
func (s *Snapshot) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RegisterHTTPHandlers exposes the latest frame at prefix+"last.jpg".
func (s *Snapshot) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"last.jpg", s.handleLast)
}

func (s *Snapshot) handleLast(w http.ResponseWriter, _ *http.Request) {
	data := s.Last()
	if data == nil {
		http.Error(w, "no frame captured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", MIMEJPEG)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// renderFrame draws a diagonal gradient shifted by frame. Flash brightens
// the whole image.
func renderFrame(size frameSize, frame int, flash bool) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size.width, size.height))
	boost := 0
	if flash {
		boost = 80
	}
	for y := 0; y < size.height; y++ {
		for x := 0; x < size.width; x++ {
			img.Set(x, y, color.RGBA{
				R: clampByte((x+frame*8)%256 + boost),
				G: clampByte((y*255)/size.height + boost),
				B: clampByte((x+y)%256 + boost),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: size.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func clampByte(v int) uint8 {
	if v > 255 {
		return 255
	}
	return uint8(v)
}
