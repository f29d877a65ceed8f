package cdpcontrol

import "encoding/json"

// JSString quotes v as a JavaScript string literal.
func JSString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// JSJSON renders v as a JavaScript object literal.
func JSJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// WrapJSEval wraps body in an IIFE that converts thrown errors into the
// evaluation envelope Evaluate expects. body must itself return
// JSON.stringify({ok:true,data:...}).
func WrapJSEval(body string) string { return buildIIFE(false, body) }

// WrapJSEvalAsync is WrapJSEval for bodies that await.
func WrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
