package scraper

import (
	"encoding/json"
	"fmt"

	"github.com/use-agent/pagelift/fetch"
)

// geometryJS walks every element in document order and reports its box in
// document coordinates plus the load state of images, media and sheets.
// The result is a JSON string so it survives the CDP round trip intact.
const geometryJS = `() => {
	const sx = window.scrollX, sy = window.scrollY;
	const boxes = [];
	for (const el of document.getElementsByTagName('*')) {
		const r = el.getBoundingClientRect();
		const b = {
			tag: el.localName,
			rect: {x: r.left + sx, y: r.top + sy, width: r.width, height: r.height},
			rendered: el.getClientRects().length > 0,
		};
		switch (el.localName) {
		case 'img':
			b.loaded = el.complete && el.naturalWidth > 0;
			b.naturalWidth = el.naturalWidth;
			b.naturalHeight = el.naturalHeight;
			break;
		case 'video':
			b.loaded = el.readyState >= 1;
			b.naturalWidth = el.videoWidth;
			b.naturalHeight = el.videoHeight;
			break;
		case 'audio':
			b.loaded = el.readyState >= 1;
			break;
		case 'link':
			b.loaded = !!el.sheet;
			break;
		}
		boxes.push(b);
	}
	return JSON.stringify({
		viewport: {x: sx, y: sy, width: window.innerWidth, height: window.innerHeight},
		boxes: boxes,
	});
}`

// parseGeometry decodes the output of geometryJS.
func parseGeometry(raw string) (*fetch.Geometry, error) {
	var g fetch.Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("scraper: decode geometry: %w", err)
	}
	if g.Viewport.Empty() {
		return nil, fmt.Errorf("scraper: decode geometry: empty viewport")
	}
	return &g, nil
}
