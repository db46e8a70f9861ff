package httpserver

// indexHTML is a small dashboard over the JSON API. It lists recent readings,
// flagged anomalies and the latest portfolio analysis.
const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>usagewatch</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
  h1 { font-size: 1.4rem; }
  h2 { font-size: 1.1rem; margin-top: 2rem; }
  table { border-collapse: collapse; min-width: 40rem; }
  th, td { text-align: left; padding: .3rem .8rem; border-bottom: 1px solid #ddd; }
  .high { color: #b00020; font-weight: 600; }
  .medium { color: #c76b00; }
  .low { color: #666; }
  #summary { color: #444; }
  form input { margin-right: .5rem; }
</style>
</head>
<body>
<h1>Utility usage</h1>

<form id="filter">
  <input id="propertyId" placeholder="property id (optional)">
  <button type="submit">Load</button>
</form>

<h2>Portfolio analysis</h2>
<p id="summary">loading...</p>

<h2>Anomalies</h2>
<table>
  <thead><tr><th>Detected</th><th>Property</th><th>Utility</th><th>Severity</th><th>Message</th></tr></thead>
  <tbody id="anomalies"></tbody>
</table>

<h2>Readings</h2>
<table>
  <thead><tr><th>Date</th><th>Property</th><th>Utility</th><th>Value</th><th>Unit</th><th>Anomaly</th></tr></thead>
  <tbody id="readings"></tbody>
</table>

<script>
function cell(row, text, cls) {
  const td = document.createElement("td");
  td.textContent = text;
  if (cls) td.className = cls;
  row.appendChild(td);
}

async function getJSON(url) {
  const res = await fetch(url);
  const body = await res.json();
  if (!res.ok) throw new Error(body.message || res.statusText);
  return body;
}

async function load() {
  const pid = document.getElementById("propertyId").value.trim();
  const q = pid ? "?propertyId=" + encodeURIComponent(pid) : "";

  try {
    const p = await getJSON("/api/analysis/anomalies");
    document.getElementById("summary").textContent =
      p.message + " (" + p.total_properties_analyzed + " analyzed, " +
      p.properties_with_anomalies + " with anomalies)";
  } catch (e) {
    document.getElementById("summary").textContent = "error: " + e.message;
  }

  const anomalies = document.getElementById("anomalies");
  anomalies.replaceChildren();
  try {
    const a = await getJSON("/api/anomalies" + q);
    for (const an of a.anomalies) {
      const tr = document.createElement("tr");
      cell(tr, an.detectedAt.slice(0, 10));
      cell(tr, an.propertyId);
      cell(tr, an.utilityType);
      cell(tr, an.severity, an.severity);
      cell(tr, an.message);
      anomalies.appendChild(tr);
    }
  } catch (e) {}

  const readings = document.getElementById("readings");
  readings.replaceChildren();
  try {
    const r = await getJSON("/api/readings" + q);
    for (const rd of r.readings) {
      const tr = document.createElement("tr");
      cell(tr, rd.readingDate.slice(0, 10));
      cell(tr, rd.propertyId);
      cell(tr, rd.utilityType);
      cell(tr, rd.value);
      cell(tr, rd.unit);
      cell(tr, rd.isAnomaly ? "yes" : "");
      readings.appendChild(tr);
    }
  } catch (e) {}
}

document.getElementById("filter").addEventListener("submit", (ev) => {
  ev.preventDefault();
  load();
});
load();
</script>
</body>
</html>
`
