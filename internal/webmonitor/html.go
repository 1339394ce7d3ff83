package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>PPE Compliance Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { margin: 0; font-family: sans-serif; background: #0f172a; color: #e2e8f0; }
        .app { max-width: 1200px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1e293b; border-radius: 8px; padding: 12px; }
        .badge { padding: 4px 10px; border-radius: 999px; font-size: 12px; background: #475569; }
        .badge.online { background: #16a34a; }
        .badge.warning { background: #ca8a04; }
        .badge.offline { background: #dc2626; }
        .stat { font-size: 28px; font-weight: bold; }
        .violations { color: #ef4444; }
        .compliant { color: #22c55e; }
        .alert { padding: 6px 8px; border-radius: 4px; margin: 4px 0; }
        .alert.critical { background: #7f1d1d; }
        .alert.warning { background: #78350f; }
        .swatch { display: inline-block; width: 10px; height: 10px; margin-right: 6px; }
        #stream { width: 100%; height: auto; background: #000; display: block; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>PPE Compliance Monitor</h1>
            <span class="badge" id="system-status">checking</span>
        </div>

        <div class="grid">
            <div class="panel">
                <img id="stream" src="/stream" alt="Annotated detection stream">
                <div style="display:flex;gap:8px;margin-top:8px;align-items:center;">
                    <input type="file" id="file-input" accept="image/*,video/*">
                    <button type="button" id="btn-toggle" disabled>Play</button>
                    <span id="processing" style="display:none;">Processing...</span>
                    <span id="file-name"></span>
                </div>
                <p id="error" style="color:#f87171;"></p>
            </div>

            <div>
                <div class="panel">
                    <h2>Compliance</h2>
                    <div>Violations <span class="stat violations" id="violations">0</span></div>
                    <div>Compliant <span class="stat compliant" id="compliant">0</span></div>
                </div>
                <div class="panel" style="margin-top:16px;">
                    <h2>Alerts</h2>
                    <div id="alerts"></div>
                </div>
                <div class="panel" style="margin-top:16px;">
                    <h2>Detected objects (<span id="total">0</span>)</h2>
                    <div id="detections"></div>
                </div>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);

        function render(status) {
            const badge = $('system-status');
            badge.textContent = status.system_status;
            badge.className = 'badge ' + status.system_status;

            $('violations').textContent = status.stats.violations;
            $('compliant').textContent = status.stats.compliant;
            $('total').textContent = status.total_detected;
            $('file-name').textContent = status.file || '';
            $('processing').style.display = status.processing ? 'inline' : 'none';

            const toggle = $('btn-toggle');
            toggle.disabled = status.source_kind !== 'video';
            toggle.textContent = status.playback === 'playing' ? 'Pause' : 'Play';

            $('alerts').replaceChildren(...status.notifications.map((n) => {
                const div = document.createElement('div');
                div.className = 'alert ' + n.severity;
                div.textContent = n.message;
                return div;
            }));
            $('detections').replaceChildren(...status.detections.map((d) => {
                const row = document.createElement('div');
                const swatch = document.createElement('span');
                swatch.className = 'swatch';
                swatch.style.background = d.color;
                row.append(swatch, d.class + ' ' + d.confidence + '%');
                return row;
            }));
        }

        async function post(path, body) {
            const resp = await fetch(path, { method: 'POST', body });
            const payload = await resp.json();
            if (!resp.ok) {
                $('error').textContent = payload.error || resp.statusText;
                return;
            }
            $('error').textContent = '';
            render(payload);
        }

        $('file-input').addEventListener('change', (ev) => {
            const file = ev.target.files[0];
            if (!file) return;
            const form = new FormData();
            form.append('file', file);
            post('/api/upload', form);
        });
        $('btn-toggle').addEventListener('click', () => post('/api/toggle'));

        const events = new EventSource('/api/status/stream');
        events.onmessage = (ev) => render(JSON.parse(ev.data));
    </script>
</body>
</html>
`
