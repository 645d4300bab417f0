package api

import "strings"

// docsBanner points readers at the endpoints the OpenAPI document cannot
// describe well.
var docsBanner = strings.Join([]string{
	`Indicator stream: <code>GET ` + indicatorStreamPath + `</code> (SSE, event <code>indicator</code>)`,
	`Toggle from a page: <code>POST /api/v1/tabs/{tab_id}/toggle</code>`,
}, "<br/>")

const docsHead = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>idlocator Control API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    .idl-banner { position: fixed; bottom: 12px; right: 16px; z-index: 9999; background: #0d1117;
      border: 1px solid #30363d; border-radius: 6px; color: #8b949e; font: 12px/1.6 ui-monospace, monospace; padding: 6px 12px; }
  </style>
</head>
<body style="height: 100vh; margin: 0;">
`

const docsTail = `
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`

var docsHTML = docsHead + `  <div class="idl-banner">` + docsBanner + `</div>` + docsTail
