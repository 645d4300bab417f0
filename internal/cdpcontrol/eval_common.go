package cdpcontrol

import "encoding/json"

// bindingName is the page function that forwards user interactions to Go.
const bindingName = "__idlocatorEmit"

// jsOverlayPreamble gives every overlay script the shared page state, the
// event emitter and the result envelope helper.
const jsOverlayPreamble = `
var st = window.__idlocator || (window.__idlocator = {nodes: [], busy: false, root: null, layer: null});
function _emit(o) {
  try { if (typeof window.` + bindingName + ` === "function") window.` + bindingName + `(JSON.stringify(o)); } catch (_) {}
}
function _ok(data) { return JSON.stringify({ok: true, data: data === undefined ? null : data}); }
function _mount(el) { (document.body || document.documentElement).appendChild(el); }
`

// jsPageHooks installs the listeners that exist for the page's lifetime. It
// is registered for new documents and also run once on attach, so it must be
// idempotent.
const jsPageHooks = `(function(){
  if (window.__idlocatorHooks) return;
  window.__idlocatorHooks = true;
  function emit(o) {
    try { if (typeof window.` + bindingName + ` === "function") window.` + bindingName + `(JSON.stringify(o)); } catch (_) {}
  }
  document.addEventListener("visibilitychange", function() {
    if (document.visibilityState === "visible") emit({type: "` + EventFocus + `"});
  });
  window.addEventListener("keydown", function(e) {
    var st = window.__idlocator;
    if (e.key === "Escape" && st && st.layer) {
      e.preventDefault();
      e.stopPropagation();
      emit({type: "` + EventCancel + `"});
    }
  }, true);
})();`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// wrapJSEval turns a script body into an expression that always yields a
// result envelope, even when the body throws.
func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// wrapOverlayEval wraps an overlay script body with the shared preamble.
func wrapOverlayEval(body string) string { return wrapJSEval(jsOverlayPreamble + body) }
