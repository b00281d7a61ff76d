package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Video Sanitization Gateway</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #1c1c1c; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1c; border-radius: 6px; padding: 12px; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #444; }
        .badge-ok { background: #2e7d32; }
        .badge-warn { background: #c62828; }
        img.feed { width: 100%; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { text-align: left; padding: 2px 4px; }
        .sensitive { color: #66bb6a; }
        .non-sensitive { color: #ef5350; }
        button { margin-right: 6px; }
    </style>
</head>
<body>
    <div class="header">
        <div>Video Sanitization Gateway</div>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>

    <div class="grid">
        <div class="panel">
            <h2>Composite</h2>
            <img class="feed" src="/stream" alt="composite stream">
            <div style="margin-top:8px;">
                <button type="button" id="btn-record-start">Start recording</button>
                <button type="button" id="btn-record-stop">Stop recording</button>
                <span id="record-status">idle</span>
            </div>
        </div>

        <div class="panel">
            <h2>Pipeline</h2>
            <table>
                <tbody id="pipeline-table"></tbody>
            </table>
            <h2>Latest cycles</h2>
            <table>
                <thead><tr><th>seq</th><th>outcome</th><th>regions</th><th>ms</th></tr></thead>
                <tbody id="cycle-table"></tbody>
            </table>
        </div>
    </div>

    <script>
        const badge = document.getElementById('status-badge');
        const pipelineTable = document.getElementById('pipeline-table');
        const cycleTable = document.getElementById('cycle-table');
        const recordStatus = document.getElementById('record-status');
        const cycles = [];

        function row(cells) {
            const tr = document.createElement('tr');
            for (const c of cells) {
                const td = document.createElement('td');
                if (c instanceof Node) {
                    td.appendChild(c);
                } else {
                    td.textContent = c;
                }
                tr.appendChild(td);
            }
            return tr;
        }

        function renderStatus(status) {
            pipelineTable.replaceChildren();
            const p = status.pipeline || {};
            pipelineTable.appendChild(row(['topology', p.topology || '-']));
            pipelineTable.appendChild(row(['local blur', String(!!p.local_blur)]));
            for (const q of (p.queues || [])) {
                pipelineTable.appendChild(row(['queue ' + q.name, q.len + ' / dropped ' + q.dropped]));
            }
            if (p.gate) {
                pipelineTable.appendChild(row(['gate timeouts', p.gate.timeouts]));
            }
            const c = status.cycles || {};
            pipelineTable.appendChild(row(['cycles', c.total || 0]));
            pipelineTable.appendChild(row(['redacted regions', c.regions_sensitive || 0]));
            const clients = status.clients || {};
            pipelineTable.appendChild(row(['viewers', Object.entries(clients).map(([k, v]) => k + ':' + v).join(' ')]));
        }

        function renderCycles() {
            cycleTable.replaceChildren();
            for (const ev of cycles) {
                const regions = document.createElement('span');
                for (const r of (ev.regions || [])) {
                    const s = document.createElement('span');
                    s.className = r.label;
                    s.textContent = r.label === 'sensitive' ? '■ ' : '□ ';
                    s.title = 's=' + r.score_sensitive.toFixed(2) + ' o=' + r.score_other.toFixed(2);
                    regions.appendChild(s);
                }
                cycleTable.appendChild(row([ev.seq, ev.outcome, regions, ev.latency_ms.toFixed(1)]));
            }
        }

        const statusSource = new EventSource('/api/status/stream');
        statusSource.onmessage = (msg) => renderStatus(JSON.parse(msg.data));

        function connectEvents() {
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            const ws = new WebSocket(proto + '://' + location.host + '/ws/events');
            ws.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                cycles.unshift(ev);
                cycles.length = Math.min(cycles.length, 20);
                renderCycles();
            };
            ws.onclose = () => setTimeout(connectEvents, 2000);
        }
        connectEvents();

        async function pollHealth() {
            try {
                const res = await fetch('/health');
                const body = await res.json();
                badge.textContent = body.status;
                badge.className = 'badge ' + (res.ok ? 'badge-ok' : 'badge-warn');
            } catch (e) {
                badge.textContent = 'offline';
                badge.className = 'badge badge-warn';
            }
        }
        setInterval(pollHealth, 3000);
        pollHealth();

        async function recording(action) {
            const res = await fetch('/api/recording/' + action, { method: 'POST' });
            const body = await res.json();
            recordStatus.textContent = body.error ? body.error : body.status + ' ' + (body.session || '');
        }
        document.getElementById('btn-record-start').onclick = () => recording('start');
        document.getElementById('btn-record-stop').onclick = () => recording('stop');
    </script>
</body>
</html>
`
