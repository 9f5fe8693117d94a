package web

// indexHTML is the widget page. It shows the gauge and reloads it whenever the
// server announces a new reading, falling back to a plain refresh every
// minute while the websocket is down.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PV</title>
<style>
html, body { margin: 0; background: transparent; }
img { display: block; width: 100%; height: auto; max-width: 400px; }
</style>
</head>
<body>
<img id="gauge" src="gauge.svg" alt="PV gauge">
<script>
(function () {
  var img = document.getElementById("gauge");
  function reload() { img.src = "gauge.svg?t=" + Date.now(); }
  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + location.pathname.replace(/[^/]*$/, "") + "ws");
    ws.onmessage = reload;
    ws.onclose = function () { setTimeout(connect, 5000); };
  }
  connect();
  setInterval(reload, 60000);
})();
</script>
</body>
</html>
`
