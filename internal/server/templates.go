package server

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>RDM Responder Tests</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { padding: 2px 8px; text-align: left; }
.test-state-passed { color: #2e7d32; }
.test-state-failed { color: #c62828; }
.test-state-broken { color: #ef6c00; }
.test-state-not_run { color: #757575; }
.notification { border: 1px solid #999; padding: 0.5em; margin-bottom: 1em; }
</style>
</head>
<body>
<h1>RDM Responder Tests</h1>
{{with .Notification}}<div class="notification"><b>{{.Title}}</b> {{.Message}}</div>{{end}}

<h2>Universes</h2>
<ul>
{{range .Universes.Universes}}<li>{{if eq .ID $.Universes.Selected}}<b>{{.ID}} {{.Name}}</b>{{else}}{{.ID}} {{.Name}}{{end}}</li>
{{else}}<li>No universes</li>
{{end}}</ul>

<h2>Devices on universe {{.Devices.Universe}}</h2>
<ul>
{{range .Devices.Devices}}<li>{{.}}</li>
{{else}}<li>No devices</li>
{{end}}</ul>

{{with .Session}}
<h2>Results for {{.UID}}</h2>
<table>
<tr><th>State</th><th>Count</th></tr>
{{range .Summary}}<tr><td>{{.State}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
<p>Warnings: {{.WarningCount}} Advisories: {{.AdvisoryCount}}</p>
<table>
<tr><th>Category</th><th>Passed</th><th>Total</th><th>Pass rate</th></tr>
{{range .CategoryStats}}<tr><td>{{.Name}}</td><td>{{.Passed}}</td><td>{{.Total}}</td><td>{{.Percent}}</td></tr>
{{end}}</table>
{{if not .LogsDisabled}}<p><a href="/download">Download logs</a></p>{{end}}
<p><a href="/charts/categories">Category chart</a> | <a href="/charts/states">State chart</a></p>
{{end}}

{{with .Results}}
<table>
<tr><th>Test</th><th>State</th></tr>
{{range .}}<tr><td><a href="/api/v1/results/{{.Definition}}">{{.Definition}}</a></td><td class="{{.Class}}">{{.State}}</td></tr>
{{end}}</table>
{{end}}
</body>
</html>
`
