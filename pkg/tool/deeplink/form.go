// pkg/tool/deeplink/form.go
package deeplink

import (
	"html/template"
	"io"
)

// The browser, not the tool, delivers the response: the platform's
// return URL gets a POST with the JWT field as soon as this page loads.
var formTemplate = template.Must(template.New("deeplink-form").Parse(`<!DOCTYPE html>
<html>
<head><title>Returning to platform</title></head>
<body onload="document.forms[0].submit()">
<form action="{{.ReturnURL}}" method="POST">
<input type="hidden" name="JWT" value="{{.JWT}}">
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// WriteAutoSubmitForm renders the self-submitting form that posts the
// signed response JWT to the platform's deep-link return URL.
func WriteAutoSubmitForm(w io.Writer, returnURL, signedJWT string) error {
	return formTemplate.Execute(w, struct {
		ReturnURL string
		JWT       string
	}{ReturnURL: returnURL, JWT: signedJWT})
}
