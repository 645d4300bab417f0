package cdpcontrol

import (
	"strconv"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

const (
	overlayZBase  = 2147483000
	labelOffsetPx = 20
	noticeTTLms   = 5000
)

func jsEnumerateCandidates() string {
	return wrapOverlayEval(`
st.nodes = [];
var els = document.querySelectorAll("[id]");
var out = [];
for (var i = 0; i < els.length; i++) {
  var el = els[i];
  if (el.closest && el.closest("[data-idlocator]")) continue;
  var id = el.getAttribute("id");
  if (!id) continue;
  var r = el.getBoundingClientRect();
  if (r.width <= 0 || r.height <= 0) continue;
  st.nodes.push(el);
  out.push({identifier: id, node: st.nodes.length - 1, box: {x: r.left, y: r.top, w: r.width, h: r.height}});
}
return _ok({
  candidates: out,
  viewport: {width: window.innerWidth, height: window.innerHeight, scroll_x: window.scrollX, scroll_y: window.scrollY}
});`)
}

func jsRenderRegions(regions []locator.Region) string {
	if regions == nil {
		regions = []locator.Region{}
	}
	return wrapOverlayEval(`
var regions = ` + jsJSON(regions) + `;
var old = document.querySelector("[data-idlocator=root]");
if (old) old.remove();
var root = document.createElement("div");
root.setAttribute("data-idlocator", "root");
root.style.cssText = "position:fixed;inset:0;pointer-events:none;z-index:` + strconv.Itoa(overlayZBase+1) + `;";
regions.forEach(function(r) {
  var d = document.createElement("div");
  d.setAttribute("data-idlocator", "region");
  d.setAttribute("data-region-id", String(r.id));
  d.style.cssText = "position:fixed;box-sizing:border-box;pointer-events:auto;cursor:pointer;" +
    "transition:background-color 0.2s ease;" +
    "left:" + r.box.x + "px;top:" + r.box.y + "px;width:" + r.box.w + "px;height:" + r.box.h + "px;" +
    "background-color:" + r.fill + ";";
  d.addEventListener("mouseenter", function() {
    if (st.busy) return;
    d.style.backgroundColor = r.highlight;
    _emit({type: "` + EventHover + `", region: r.id});
  });
  d.addEventListener("mouseleave", function() {
    d.style.backgroundColor = r.fill;
    if (!st.busy) _emit({type: "` + EventLeave + `", region: r.id});
  });
  d.addEventListener("click", function(e) {
    e.preventDefault();
    e.stopPropagation();
    if (st.busy) return;
    _emit({type: "` + EventClick + `", region: r.id});
  });
  root.appendChild(d);
});
_mount(root);
st.root = root;
return _ok({rendered: regions.length});`)
}

func jsRemoveAllRegions() string {
	return wrapOverlayEval(`
var nodes = document.querySelectorAll("[data-idlocator=root],[data-idlocator=label]");
for (var i = 0; i < nodes.length; i++) nodes[i].remove();
st.root = null;
st.nodes = [];
return _ok({removed: nodes.length});`)
}

func jsBlockInteraction() string {
	return wrapOverlayEval(`
if (!st.layer) {
  var layer = document.createElement("div");
  layer.setAttribute("data-idlocator", "layer");
  layer.style.cssText = "position:fixed;inset:0;background:transparent;cursor:crosshair;z-index:` + strconv.Itoa(overlayZBase) + `;";
  layer.addEventListener("click", function(e) { e.preventDefault(); e.stopPropagation(); }, true);
  _mount(layer);
  st.layer = layer;
  st.savedOverflow = document.body ? document.body.style.overflow : "";
  if (document.body) document.body.style.overflow = "hidden";
}
return _ok({blocked: true});`)
}

// jsUnblockInteraction only restores scrolling it suspended itself.
func jsUnblockInteraction() string {
	return wrapOverlayEval(`
var layers = document.querySelectorAll("[data-idlocator=layer]");
for (var i = 0; i < layers.length; i++) layers[i].remove();
if (st.layer && document.body) document.body.style.overflow = st.savedOverflow || "";
st.layer = null;
st.savedOverflow = undefined;
return _ok({unblocked: true});`)
}

func jsSetBusy(busy bool) string {
	return wrapOverlayEval(`
var busy = ` + strconv.FormatBool(busy) + `;
st.busy = busy;
var regions = document.querySelectorAll("[data-idlocator=region]");
for (var i = 0; i < regions.length; i++) {
  regions[i].style.pointerEvents = busy ? "none" : "auto";
  regions[i].style.cursor = busy ? "wait" : "pointer";
}
if (st.layer) st.layer.style.cursor = busy ? "wait" : "crosshair";
document.documentElement.style.cursor = busy ? "wait" : "";
return _ok({busy: busy});`)
}

func jsShowLabel(regionID int, label locator.Label) string {
	return wrapOverlayEval(`
var id = ` + strconv.Itoa(regionID) + `;
var lab = ` + jsJSON(label) + `;
var prev = document.querySelector('[data-idlocator=label][data-region-id="' + id + '"]');
if (prev) prev.remove();
var region = document.querySelector('[data-idlocator=region][data-region-id="' + id + '"]');
if (!region) return _ok({shown: false});
var r = region.getBoundingClientRect();
var el = document.createElement("div");
el.setAttribute("data-idlocator", "label");
el.setAttribute("data-region-id", String(id));
el.textContent = lab.text;
var css = "position:fixed;pointer-events:none;white-space:nowrap;padding:0 4px;border-radius:3px;" +
  "font:12px/20px monospace;color:#fff;background:rgba(0,0,0,0.8);z-index:` + strconv.Itoa(overlayZBase+2) + `;";
if (lab.placement === "` + string(locator.PlacementInside) + `") {
  css += "left:" + (r.left + r.width / 2) + "px;top:" + (r.top + r.height / 2) + "px;transform:translate(-50%,-50%);";
} else {
  css += "left:" + r.left + "px;top:" + (r.top - ` + strconv.Itoa(labelOffsetPx) + `) + "px;";
}
el.style.cssText = css;
_mount(el);
return _ok({shown: true});`)
}

func jsHideLabel(regionID int) string {
	return wrapOverlayEval(`
var id = ` + strconv.Itoa(regionID) + `;
var nodes = document.querySelectorAll('[data-idlocator=label][data-region-id="' + id + '"]');
for (var i = 0; i < nodes.length; i++) nodes[i].remove();
return _ok({hidden: nodes.length});`)
}

func jsNotify(n locator.Notice) string {
	return wrapOverlayEval(`
var kind = ` + jsString(string(n.Kind)) + `;
var el = document.createElement("div");
el.setAttribute("data-idlocator", "notice");
el.setAttribute("role", "alert");
el.textContent = ` + jsString(n.Message) + `;
el.style.cssText = "position:fixed;right:16px;bottom:16px;max-width:420px;padding:10px 14px;border-radius:4px;" +
  "font:13px sans-serif;color:#fff;box-shadow:0 2px 8px rgba(0,0,0,0.3);z-index:` + strconv.Itoa(overlayZBase+3) + `;" +
  "background:" + (kind === "` + string(locator.NoticeError) + `" ? "#c0392b" : "#8a6d1f") + ";";
_mount(el);
setTimeout(function() { el.remove(); }, ` + strconv.Itoa(noticeTTLms) + `);
return _ok({shown: true});`)
}

func jsOpenURI(uri string) string {
	return wrapOverlayEval(`
window.open(` + jsString(uri) + `, "_blank");
return _ok({opened: true});`)
}
