package panel

import (
	"strings"

	"github.com/dgnsrekt/tabpanel/internal/cdpcontrol"
)

const (
	// HostID is the id of the single element hosting the panel's shadow root.
	HostID = "tabpanel-host"
	// BindingName is the page-side function the panel calls to reach the
	// controller. It is installed with Runtime.addBinding.
	BindingName = "__tabpanelSend"

	responseModalID = "tabpanel-response-modal"
	errorModalID    = "tabpanel-error-modal"
	modalGlobal     = "__tabpanelModal"
)

// legacyHostIDs are panel roots left behind by earlier builds and by the
// browser-extension version of the panel. Injection removes all of them.
var legacyHostIDs = []string{
	"stealth-shadow-host",
	"stealth-panel-host",
	"stealth-injector-panel",
}

func allHostIDs() []string {
	return append([]string{HostID}, legacyHostIDs...)
}

func jsProbe() string {
	return cdpcontrol.WrapJSEval(`
var host = document.getElementById(` + cdpcontrol.JSString(HostID) + `);
if (!host) return JSON.stringify({ok:true,data:{exists:false,visible:false}});
var style = window.getComputedStyle(host);
var rect = host.getBoundingClientRect();
return JSON.stringify({ok:true,data:{exists:true,visible:style.display !== "none" && rect.width > 0}});`)
}

func jsInject() string {
	return cdpcontrol.WrapJSEval(`
var ids = ` + cdpcontrol.JSJSON(allHostIDs()) + `;
var removed = 0;
for (var i = 0; i < ids.length; i++) {
  var nodes = document.querySelectorAll("#" + ids[i]);
  for (var j = 0; j < nodes.length; j++) { nodes[j].remove(); removed++; }
}
var root = document.body || document.documentElement;
if (!root) return JSON.stringify({ok:false,error_code:"` + cdpcontrol.CodeEvalFailure + `",error_message:"document has no root"});
var host = document.createElement("div");
host.id = ` + cdpcontrol.JSString(HostID) + `;
host.style.cssText = "position:fixed;top:16px;right:16px;width:320px;z-index:2147483646;display:block;";
var shadow = host.attachShadow({mode:"open"});
shadow.innerHTML = ` + cdpcontrol.JSString(panelMarkup) + `;
function send(msg) {
  var fn = window[` + cdpcontrol.JSString(BindingName) + `];
  var status = shadow.getElementById("status");
  if (typeof fn !== "function") { status.textContent = "Controller not connected"; return; }
  try { fn(JSON.stringify(msg)); status.textContent = "Sent"; } catch (e) { status.textContent = String(e); }
}
shadow.getElementById("ask").addEventListener("click", function() {
  var text = shadow.getElementById("question").value.trim();
  if (!text) { shadow.getElementById("status").textContent = "Enter a question first"; return; }
  send({action:"ask",text:text});
});
shadow.getElementById("extract").addEventListener("click", function() { send({action:"extract_canvas"}); });
shadow.getElementById("hide").addEventListener("click", function() { host.style.display = "none"; });
root.appendChild(host);
return JSON.stringify({ok:true,data:{removed:removed}});`)
}

const panelMarkup = `<style>
:host{all:initial}
.panel{font:13px/1.4 system-ui,sans-serif;background:#1e1f24;color:#e8e8ea;border-radius:8px;box-shadow:0 6px 24px rgba(0,0,0,.35);padding:12px}
.head{display:flex;justify-content:space-between;align-items:center;margin-bottom:8px;font-weight:600}
textarea{width:100%;box-sizing:border-box;min-height:64px;background:#2a2b31;color:inherit;border:1px solid #3a3b42;border-radius:4px;padding:6px}
.row{display:flex;gap:6px;margin-top:8px}
button{flex:1;background:#3b6ef5;color:#fff;border:0;border-radius:4px;padding:6px;cursor:pointer}
button.ghost{flex:0;background:transparent;color:#aaa}
.status{margin-top:6px;color:#9a9ba3;min-height:1em}
</style>
<div class="panel">
<div class="head"><span>Tab Panel</span><button id="hide" class="ghost" title="Hide">&#x2715;</button></div>
<textarea id="question" placeholder="Ask the backend..."></textarea>
<div class="row"><button id="ask">Ask</button><button id="extract">Extract canvases</button></div>
<div class="status" id="status"></div>
</div>`

func jsToggle() string {
	return cdpcontrol.WrapJSEval(`
var host = document.getElementById(` + cdpcontrol.JSString(HostID) + `);
if (!host) return JSON.stringify({ok:true,data:{state:"not_found"}});
var hidden = window.getComputedStyle(host).display === "none";
host.style.display = hidden ? "block" : "none";
return JSON.stringify({ok:true,data:{state:hidden ? "visible" : "hidden"}});`)
}

// jsInstallModal defines window.__tabpanelModal once per document. Both
// creators replace any modal of the same kind and render text, never HTML.
func jsInstallModal() string {
	return cdpcontrol.WrapJSEval(`
if (window[` + cdpcontrol.JSString(modalGlobal) + `]) return JSON.stringify({ok:true,data:{installed:false}});
function overlay(id) {
  var old = document.getElementById(id);
  if (old) old.remove();
  var o = document.createElement("div");
  o.id = id;
  o.style.cssText = "position:fixed;inset:0;background:rgba(0,0,0,.55);z-index:2147483647;display:flex;align-items:center;justify-content:center;";
  var box = document.createElement("div");
  box.style.cssText = "max-width:640px;width:90%;max-height:80vh;overflow:auto;background:#fff;color:#111;border-radius:8px;padding:20px;font:14px/1.5 system-ui,sans-serif;box-shadow:0 10px 40px rgba(0,0,0,.4);";
  o.appendChild(box);
  function close() { o.remove(); document.removeEventListener("keydown", onKey); }
  function onKey(e) { if (e.key === "Escape") close(); }
  o.addEventListener("click", function(e) { if (e.target === o) close(); });
  document.addEventListener("keydown", onKey);
  var btn = document.createElement("button");
  btn.textContent = "Close";
  btn.style.cssText = "float:right;margin-left:12px;cursor:pointer;";
  btn.addEventListener("click", close);
  box.appendChild(btn);
  (document.body || document.documentElement).appendChild(o);
  return box;
}
function block(box, tag, text, css) {
  var el = document.createElement(tag);
  el.textContent = text;
  if (css) el.style.cssText = css;
  box.appendChild(el);
  return el;
}
window[` + cdpcontrol.JSString(modalGlobal) + `] = {
  createResponseModal: function(question, text, source, confidence) {
    var box = overlay(` + cdpcontrol.JSString(responseModalID) + `);
    block(box, "h3", "Response", "margin:0 0 12px;");
    if (question) block(box, "p", question, "color:#555;font-style:italic;");
    block(box, "pre", text, "white-space:pre-wrap;word-break:break-word;background:#f4f4f6;padding:10px;border-radius:4px;");
    block(box, "p", "Source: " + source + " | Confidence: " + Math.round(Number(confidence) * 100) + "%", "color:#666;font-size:12px;");
    return true;
  },
  createErrorModal: function(message) {
    var box = overlay(` + cdpcontrol.JSString(errorModalID) + `);
    block(box, "h3", "Error", "margin:0 0 12px;color:#b00020;");
    block(box, "pre", message, "white-space:pre-wrap;word-break:break-word;");
    return true;
  }
};
return JSON.stringify({ok:true,data:{installed:true}});`)
}

func jsCreateResponseModal(question, text, source string, confidence float64) string {
	args := cdpcontrol.JSJSON([]any{question, text, source, confidence})
	return jsCallModal("createResponseModal", args)
}

func jsCreateErrorModal(message string) string {
	return jsCallModal("createErrorModal", cdpcontrol.JSJSON([]any{message}))
}

func jsCallModal(method, args string) string {
	return cdpcontrol.WrapJSEval(`
var m = window[` + cdpcontrol.JSString(modalGlobal) + `];
if (!m || typeof m.` + method + ` !== "function") return JSON.stringify({ok:true,data:{acknowledged:false}});
var ack = m.` + method + `.apply(m, ` + args + `);
return JSON.stringify({ok:true,data:{acknowledged:ack === true}});`)
}

// selectorList renders ids as a CSS selector list, used in tests and logs.
func selectorList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "#" + id
	}
	return strings.Join(parts, ", ")
}
