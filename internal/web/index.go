package web

import (
	"net/http"
)

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>refocus</title>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <style>
        :root {
            --bg: #f5f5f5;
            --card: white;
            --text: #333;
            --muted: #7f8c8d;
            --accent: #e67e22;
            --grace: #f1c40f;
            --done: #95a5a6;
        }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: var(--bg); color: var(--text); margin: 0; padding: 24px; }
        main { max-width: 720px; margin: 0 auto; }
        section { background: var(--card); border-radius: 8px; padding: 16px 20px; margin-bottom: 16px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
        h1 { font-size: 22px; } h2 { font-size: 16px; color: var(--muted); margin-top: 0; }
        .row { display: flex; justify-content: space-between; padding: 6px 0; position: relative; }
        .row::before { content: ""; position: absolute; left: 0; bottom: 0; height: 2px; width: var(--bar-width, 0); background: var(--accent); }
        .total, .empty { color: var(--muted); margin-top: 8px; }
        .status-running { color: var(--accent); } .status-grace { color: var(--grace); } .status-finished { color: var(--done); }
        nav button { margin-right: 6px; }
    </style>
</head>
<body>
<main>
    <h1>refocus</h1>
    <section>
        <h2>Now</h2>
        <div id="now">loading...</div>
    </section>
    <section>
        <h2>Usage</h2>
        <nav>
            <button hx-get="/api/summary?period=day" hx-target="#summary">Day</button>
            <button hx-get="/api/summary?period=week" hx-target="#summary">Week</button>
            <button hx-get="/api/summary?period=month" hx-target="#summary">Month</button>
        </nav>
        <div id="summary" hx-get="/api/summary?period=day" hx-trigger="load, every 30s">loading...</div>
    </section>
    <section>
        <h2>Sessions</h2>
        <div id="sessions">loading...</div>
    </section>
</main>
<script>
    function esc(s) {
        const d = document.createElement('div');
        d.textContent = s;
        return d.innerHTML;
    }

    function renderSessions(sessions) {
        const el = document.getElementById('sessions');
        if (!sessions.length) { el.innerHTML = '<div class="empty">No sessions yet</div>'; return; }
        el.innerHTML = sessions.slice(0, 50).map(s =>
            '<div class="row"><span>' + esc(s.subject) + '</span>' +
            '<span>' + new Date(s.started_at).toLocaleString() + '</span>' +
            '<span>' + s.duration + '</span>' +
            '<span class="status-' + s.status + '">' + s.status + '</span></div>'
        ).join('');
    }

    async function refreshNow() {
        const res = await fetch('/api/status');
        const st = await res.json();
        const t = st.tracker || {};
        let text = 'Foreground: ' + (t.foreground || 'none');
        if (t.tracking) text += ' | tracking ' + esc(t.tracking) + ' for ' + st.elapsed;
        if (t.pending) text += ' | ' + esc(t.pending.subject) + ' ends in ' + Math.round(t.pending.remaining / 1e9) + 's';
        document.getElementById('now').innerHTML = esc(text);
    }

    function watch() {
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/api/sessions/watch');
        ws.onmessage = ev => renderSessions(JSON.parse(ev.data));
        ws.onclose = () => setTimeout(watch, 2000);
    }

    refreshNow();
    setInterval(refreshNow, 1000);
    watch();
</script>
</body>
</html>`
