package http

import (
	"bytes"
	"html/template"
	"net/http"
	"time"
)

const statusPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex, nofollow">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`

const interstitialHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex, nofollow">
<meta name="referrer" content="no-referrer">
<title>Redirecting</title>
<script>
setTimeout(function () { window.location.replace({{.Destination}}); }, {{.DelayMillis}});
</script>
</head>
<body>
<p>Redirecting you now.</p>
<noscript><p><a href="{{.Destination}}" rel="noreferrer noopener">Continue</a></p></noscript>
</body>
</html>
`

var (
	statusPage       = template.Must(template.New("status").Parse(statusPageHTML))
	interstitialPage = template.Must(template.New("interstitial").Parse(interstitialHTML))
)

type statusData struct {
	Title   string
	Message string
}

type interstitialData struct {
	Destination string
	DelayMillis int64
}

var (
	pageNotFound = statusData{Title: "Link not found", Message: "This link does not exist."}
	pageDisabled = statusData{Title: "Link disabled", Message: "This link has been disabled."}
	pageExpired  = statusData{Title: "Link expired", Message: "This link has expired."}
	pageError    = statusData{Title: "Something went wrong", Message: "Please try again later."}
)

func renderStatusPage(w http.ResponseWriter, status int, data statusData) {
	renderHTML(w, status, statusPage, data)
}

// renderInterstitial serves a page that sends the browser to dest after
// delay, without a referrer and without being indexed.
func renderInterstitial(w http.ResponseWriter, dest string, delay time.Duration) {
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	renderHTML(w, http.StatusOK, interstitialPage, interstitialData{
		Destination: dest,
		DelayMillis: delay.Milliseconds(),
	})
}

func renderHTML(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
