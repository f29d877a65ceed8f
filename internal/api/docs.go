package api

// docsHTML renders the OpenAPI document with Stoplight Elements under a small
// nav bar linking the event stream docs.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>tabpanel API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; height: 100vh; display: flex; flex-direction: column; background: #0d1117; }
    nav { display: flex; gap: 16px; align-items: center; padding: 8px 16px; border-bottom: 1px solid #30363d;
          font: 500 13px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; color: #c9d1d9; }
    nav a { color: #58a6ff; text-decoration: none; }
    nav .grow { flex: 1; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <nav>
    <strong>tabpanel</strong>
    <span class="grow">panel injection, canvas capture and backend relay</span>
    <a href="/docs/events">Event stream</a>
    <a href="/openapi.json">openapi.json</a>
  </nav>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
