package server

import "html/template"

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Workstation Status</title>
    <style>
        body { font-family: sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f5f5f5; }
        .status-box { background: white; padding: 2rem; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); min-width: 300px; }
        h1 { margin-top: 0; font-size: 1.5rem; }
        .info { margin: 1rem 0; }
        .label { color: #666; font-size: 0.9rem; }
        .value { font-size: 1.1rem; font-weight: bold; }
        .state-running { color: #34a853; }
        .state-stopped { color: #ea4335; }
        .state-transitional { color: #fbbc04; }
        .state-other { color: #666; }
        button { padding: 0.75rem 1.5rem; border: none; border-radius: 4px; cursor: pointer; font-size: 1rem; margin-top: 1rem; }
        .btn-start { background: #34a853; color: white; }
        .btn-start:hover { background: #2d8f47; }
        .btn-stop { background: #ea4335; color: white; }
        .btn-stop:hover { background: #d33426; }
        .btn-disabled { background: #ccc; color: #666; cursor: not-allowed; }
        .error { color: red; font-size: 0.9rem; margin-top: 1rem; }
        .message { color: #34a853; font-size: 0.9rem; margin-top: 1rem; }
        a { color: #4285f4; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <div class="status-box">
        <h1>Workstation Status</h1>
        <div class="info">
            <div class="label">Name</div>
            <div class="value">{{.Status.TargetID}}</div>
        </div>
        <div class="info">
            <div class="label">State</div>
            <div class="value {{.StateClass}}">{{.Status.State}}</div>
        </div>
        <div class="info">
            <div class="label">Host</div>
            <div class="value" style="font-size: 0.9rem;">{{.Status.Host}}</div>
        </div>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        {{if .Message}}<div class="message">{{.Message}}</div>{{end}}
        {{if .Status.Running}}
        <form method="POST">
            <input type="hidden" name="action" value="stop">
            <button type="submit" class="btn-stop">Stop Workstation</button>
        </form>
        <div style="margin-top: 1.5rem; font-size: 0.9rem;"><a href="/ws/{{.Status.TargetID}}/">Open Workstation</a></div>
        {{else if eq .Status.State "STATE_STOPPED"}}
        <form method="POST">
            <input type="hidden" name="action" value="start">
            <button type="submit" class="btn-start">Start Workstation</button>
        </form>
        {{else if .Status.Transitional}}
        <button class="btn-disabled" disabled>Processing...</button>
        {{end}}
    </div>
</body>
</html>
`))

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Workstation Proxy Login</title>
    <style>
        body { font-family: sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f5f5f5; }
        .login-box { background: white; padding: 2rem; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { margin-top: 0; font-size: 1.5rem; }
        input { display: block; width: 100%; padding: 0.5rem; margin: 0.5rem 0; border: 1px solid #ddd; border-radius: 4px; box-sizing: border-box; }
        button { width: 100%; padding: 0.5rem; background: #4285f4; color: white; border: none; border-radius: 4px; cursor: pointer; }
        button:hover { background: #3367d6; }
        .error { color: red; font-size: 0.9rem; }
    </style>
</head>
<body>
    <div class="login-box">
        <h1>Workstation Proxy</h1>
        {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
        <form method="POST" action="/login{{if .Next}}?next={{.Next}}{{end}}">
            <input name="password" type="password" placeholder="Password" required autofocus>
            <button type="submit">Login</button>
        </form>
    </div>
</body>
</html>
`))

type statusPageData struct {
	Status  TargetStatus
	Message string
	Error   string
}

// StateClass maps the target state to the CSS class rendered on the
// status page.
func (d statusPageData) StateClass() string {
	switch {
	case d.Status.State == StateRunning:
		return "state-running"
	case d.Status.State == StateStopped:
		return "state-stopped"
	case d.Status.Transitional():
		return "state-transitional"
	default:
		return "state-other"
	}
}

type loginPageData struct {
	Error string
	Next  string
}
