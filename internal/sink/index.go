package sink

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>EdgeViewer Frame Sink</title>
    <style>
        body { font-family: monospace; margin: 0; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .container { max-width: 960px; margin: 0 auto; }
        h1 { margin-top: 0; color: #569cd6; }
        canvas { background: #000; max-width: 100%; }
        .stats { display: flex; gap: 24px; margin: 12px 0; }
        .stat-label { color: #569cd6; }
        .stat-value { color: #4ec9b0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>EdgeViewer Frame Sink</h1>
        <canvas id="frame" width="640" height="480"></canvas>
        <div class="stats" id="stats">
            <span><span class="stat-label">FPS:</span> <span class="stat-value" id="fps">-</span></span>
            <span><span class="stat-label">Resolution:</span> <span class="stat-value" id="resolution">-</span></span>
            <span><span class="stat-label">Processing Time:</span> <span class="stat-value" id="processing">-</span></span>
        </div>
        <p id="waiting">Waiting for frames...</p>
    </div>
    <script>
        const canvas = document.getElementById('frame');
        const ctx = canvas.getContext('2d');
        const img = new Image();

        function show(frame) {
            if (!frame.image || frame.error) {
                return;
            }
            img.onload = () => {
                canvas.width = img.width;
                canvas.height = img.height;
                ctx.drawImage(img, 0, 0);
            };
            img.src = frame.image;
            const res = frame.resolution || { width: frame.width, height: frame.height };
            document.getElementById('fps').textContent = (frame.fps || 0).toFixed(1);
            document.getElementById('resolution').textContent = res.width + ' x ' + res.height;
            document.getElementById('processing').textContent = (frame.processingTime || 0).toFixed(2) + ' ms';
            document.getElementById('waiting').style.display = 'none';
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/api/frame/stream');
            ws.onmessage = (ev) => show(JSON.parse(ev.data));
            ws.onclose = () => setTimeout(connect, 1000);
        }

        fetch('/api/frame').then((r) => r.json()).then(show).catch(() => {});
        connect();
    </script>
</body>
</html>`
