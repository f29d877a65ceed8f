package api

const eventsDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream - tabpanel</title>
  <style>
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; color: #e6edf3; }
    main { max-width: 900px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; color: #e6edf3; }
    h2 { margin: 36px 0 12px; font-size: 18px; color: #e6edf3; border-bottom: 1px solid #21262d; padding-bottom: 8px; }
    code { font-family: "SFMono-Regular", Consolas, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
    th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #21262d; vertical-align: top; }
    th { color: #8b949e; font-weight: 600; }
  </style>
</head>
<body>
  <nav>
    <span class="brand">tabpanel</span>
    <a href="/docs">&larr; API Reference</a>
  </nav>
  <main>
    <h1>Event Stream</h1>
    <p>Server-Sent Events with panel injection transitions and backend relay outcomes.</p>

    <h2>Endpoint</h2>
    <pre><code>GET /api/v1/events?feeds=transition,relay</code></pre>
    <p><code>feeds</code> is optional; without it every feed is streamed.
    A <code>: ping</code> comment is sent every 15 seconds.</p>

    <h2>Feeds</h2>
    <table>
      <tr><th>Feed</th><th>Payload</th></tr>
      <tr>
        <td><code>transition</code></td>
        <td><code>{"tab_id","kind","detail","at"}</code>; kind is one of
        <code>evicted</code>, <code>skipped</code>, <code>injected</code>,
        <code>inject_failed</code>, <code>verify_evicted</code>, <code>restricted</code>.</td>
      </tr>
      <tr>
        <td><code>relay</code></td>
        <td><code>{"kind","tab_id","delivered","message","reply"}</code>; kind is
        <code>response</code> or <code>error</code>.</td>
      </tr>
    </table>

    <h2>Format</h2>
    <pre><code>id: 12
event: transition
data: {"tab_id":"7F3A...","kind":"injected","at":"2026-03-01T12:00:00Z"}</code></pre>

    <h2>Examples</h2>
    <pre><code>curl -N http://127.0.0.1:8190/api/v1/events?feeds=relay</code></pre>
    <pre><code>const sse = new EventSource("http://127.0.0.1:8190/api/v1/events");
sse.addEventListener("transition", (e) =&gt; console.log(JSON.parse(e.data)));</code></pre>
  </main>
</body>
</html>`
