package render

import "html/template"

const pageHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
{{block "extra" .}}{{end}}
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map("map").setView({{.Center}}, {{.Zoom}});
L.tileLayer({{.TileURL}}, {
  maxZoom: 19,
  attribution: "&copy; OpenStreetMap contributors"
}).addTo(map);
{{template "layer" .}}
</script>
</body>
</html>
`

var heatmapTemplate = template.Must(template.Must(template.New("heatmap").Parse(pageHead)).Parse(`
{{define "extra"}}<script src="https://unpkg.com/leaflet.heat@0.2.0/dist/leaflet-heat.js"></script>{{end}}
{{define "layer"}}L.heatLayer({{.Heat}}, {radius: 8, blur: 15, minOpacity: 0.4}).addTo(map);{{end}}
`))

var markersTemplate = template.Must(template.Must(template.New("markers").Parse(pageHead)).Parse(`
{{define "layer"}}var points = {{.Markers}};
points.forEach(function (p) {
  L.circleMarker([p.lat, p.lon], {
    radius: 2,
    color: "red",
    fill: true,
    fillOpacity: 0.6
  }).bindPopup("BSSID: " + p.bssid).addTo(map);
});{{end}}
`))
