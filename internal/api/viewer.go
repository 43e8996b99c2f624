package api

import "html/template"

type viewerData struct {
	Status    Status
	HasStream bool
}

var viewerPage = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>EdgeViewer</title>
    <style>
        body { font-family: monospace; margin: 0; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .container { max-width: 960px; margin: 0 auto; }
        h1 { margin-top: 0; color: #569cd6; }
        .frame { background: #000; display: flex; justify-content: center; min-height: 240px; }
        .frame img { max-width: 100%; }
        .stats { display: flex; gap: 24px; margin: 12px 0; }
        .stat-value { color: #4ec9b0; }
        .warn { color: #ce9178; }
        button { background: #0e639c; color: #fff; border: 0; padding: 8px 16px; cursor: pointer; font-family: inherit; }
        button:hover { background: #1177bb; }
    </style>
</head>
<body>
    <div class="container">
        <h1>EdgeViewer</h1>
        {{if not .Status.ProcessorAvailable}}<p class="warn">Frame processor {{.Status.Processor}} is unavailable, no frames will be displayed.</p>{{end}}
        <div class="frame">
            {{if .HasStream}}<img src="/stream" alt="live view">{{else}}<p>No stream surface configured</p>{{end}}
        </div>
        <div class="stats">
            <span id="fps">FPS: <span class="stat-value">{{.Status.Metrics.FPS}}</span></span>
            <span id="resolution">Resolution: <span class="stat-value">{{.Status.Metrics.Width}}x{{.Status.Metrics.Height}}</span></span>
            <span id="processing">Processing: <span class="stat-value">{{printf "%.2f" .Status.Metrics.LastProcessingTimeMs}} ms</span></span>
        </div>
        <div>
            <button id="toggle">{{.Status.ProcessingLabel}}</button>
            <button id="effect">Effect: {{.Status.Effect}}</button>
            <a href="/stats" style="color: #569cd6; margin-left: 12px;">Stream stats</a>
        </div>
    </div>
    <script>
        function set(id, label, value) {
            document.getElementById(id).innerHTML = label + ': <span class="stat-value">' + value + '</span>';
        }
        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/api/metrics/stream');
            ws.onmessage = (ev) => {
                const m = JSON.parse(ev.data);
                set('fps', 'FPS', m.fps);
                set('resolution', 'Resolution', m.width + 'x' + m.height);
                set('processing', 'Processing', m.lastProcessingTimeMs.toFixed(2) + ' ms');
            };
            ws.onclose = () => setTimeout(connect, 1000);
        }
        document.getElementById('toggle').onclick = async (ev) => {
            const res = await fetch('/api/processing/toggle', { method: 'POST' });
            ev.target.textContent = (await res.json()).label;
        };
        document.getElementById('effect').onclick = async (ev) => {
            const res = await fetch('/api/effect/cycle', { method: 'POST' });
            ev.target.textContent = 'Effect: ' + (await res.json()).effect;
        };
        connect();
    </script>
</body>
</html>`))
