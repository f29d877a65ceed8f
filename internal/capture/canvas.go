// Package capture reads <canvas> pixel data out of browser tabs.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

const (
	defaultPreviewBytes = 200
	attachTimeout       = 10 * time.Second
	extractTimeout      = 15 * time.Second
)

// canvasExtractJS serializes every canvas in the document. Tainted
// canvases throw on toDataURL and are reported per element.
const canvasExtractJS = `(function(){
var out = [];
var list = document.querySelectorAll("canvas");
for (var i = 0; i < list.length; i++) {
  var c = list[i];
  var item = {index:i,width:c.width,height:c.height,dataURL:"",success:false,error:""};
  try { item.dataURL = c.toDataURL("image/png"); item.success = true; }
  catch (err) { item.error = String(err && err.message || err); }
  out.push(item);
}
return out;
})()`

type rawCanvas struct {
	Index   int    `json:"index"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	DataURL string `json:"dataURL"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// canvasRunner evaluates canvasExtractJS in a tab.
type canvasRunner func(ctx context.Context, id types.TabID) ([]rawCanvas, error)

// Extractor pulls canvases from tabs through a chromedp remote allocator.
type Extractor struct {
	run          canvasRunner
	previewBytes int
	cancel       context.CancelFunc
}

// NewExtractor connects a chromedp allocator to the browser's DevTools
// endpoint, e.g. http://127.0.0.1:9220.
func NewExtractor(cdpURL string) *Extractor {
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	return &Extractor{
		run:          makeCDPRunner(allocCtx),
		previewBytes: defaultPreviewBytes,
		cancel:       cancel,
	}
}

// Close releases the allocator. Tabs are left open.
func (e *Extractor) Close() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Result is one extraction: the canvas metadata and the decoded PNG bytes of
// every canvas that could be read, keyed by canvas index.
type Result struct {
	Canvases []types.CanvasInfo
	PNGs     map[int][]byte
}

// Extract returns every canvas in the tab with a shortened data URL preview.
// A page without canvases yields an empty result and no error.
func (e *Extractor) Extract(ctx context.Context, id types.TabID) (Result, error) {
	raw, err := e.run(ctx, id)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Canvases: make([]types.CanvasInfo, 0, len(raw)),
		PNGs:     make(map[int][]byte),
	}
	for _, rc := range raw {
		info := types.CanvasInfo{
			Index:   rc.Index,
			Width:   rc.Width,
			Height:  rc.Height,
			Success: rc.Success,
			Error:   rc.Error,
		}
		if rc.Success {
			info.DataURL, info.DataLength, info.DataSHA256 = previewDataURL(rc.DataURL, e.previewBytes)
			if png, err := decodeDataURL(rc.DataURL); err != nil {
				slog.Debug("canvas data url not decodable", "tab_id", id, "index", rc.Index, "error", err)
			} else if len(png) > 0 {
				res.PNGs[rc.Index] = png
			}
		}
		res.Canvases = append(res.Canvases, info)
	}
	slog.Info("canvas extraction done", "tab_id", id, "canvases", len(res.Canvases))
	return res, nil
}

// decodeDataURL returns the payload of a base64 data URL. A canvas with zero
// width or height serializes to "data:," which decodes to nothing.
func decodeDataURL(dataURL string) ([]byte, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, fmt.Errorf("not a data url")
	}
	if !strings.HasSuffix(header, ";base64") {
		return []byte(payload), nil
	}
	return base64.StdEncoding.DecodeString(payload)
}

func makeCDPRunner(allocCtx context.Context) canvasRunner {
	return func(ctx context.Context, id types.TabID) ([]rawCanvas, error) {
		tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(id)))
		defer tabCancel()

		// Cancel the tab context if the caller gives up.
		stop := context.AfterFunc(ctx, tabCancel)
		defer stop()

		attachCtx, attachCancel := context.WithTimeout(tabCtx, attachTimeout)
		defer attachCancel()
		if err := chromedp.Run(attachCtx); err != nil {
			return nil, fmt.Errorf("attach to tab: %w", err)
		}

		evalCtx, evalCancel := context.WithTimeout(tabCtx, extractTimeout)
		defer evalCancel()

		var result []rawCanvas
		if err := chromedp.Run(evalCtx, chromedp.Evaluate(canvasExtractJS, &result)); err != nil {
			return nil, fmt.Errorf("extract canvases: %w", err)
		}
		return result, nil
	}
}
