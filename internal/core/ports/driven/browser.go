package driven

// BrowserOpener hands an authorization URL to the system browser. The
// hand-off is fire-and-forget: control leaves the application until the OS
// delivers the redirect back.
type BrowserOpener interface {
	// Open launches the URL in the user's browser.
	Open(url string) error
}
