package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/sonara-labs/sonara-link/internal/config"
	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
	"github.com/sonara-labs/sonara-link/internal/core/services"
)

// fakeSessionService records calls and returns canned results.
type fakeSessionService struct {
	authReq      *driving.AuthRequest
	authErr      error
	token        string
	tokenErr     error
	callbackErr  error
	disconnects  []string
	state        domain.SessionState
	lastService  string
	lastIntegrID string
}

func (f *fakeSessionService) Authenticate(_ context.Context, service, integrationID string) (*driving.AuthRequest, error) {
	f.lastService, f.lastIntegrID = service, integrationID
	return f.authReq, f.authErr
}

func (f *fakeSessionService) HandleCallback(context.Context, string, string) error {
	return f.callbackErr
}

func (f *fakeSessionService) GetValidAccessToken(_ context.Context, service, integrationID string) (string, error) {
	f.lastService, f.lastIntegrID = service, integrationID
	return f.token, f.tokenErr
}

func (f *fakeSessionService) Disconnect(_ context.Context, service, integrationID string) error {
	f.lastService, f.lastIntegrID = service, integrationID
	f.disconnects = append(f.disconnects, domain.CredentialKey(service, integrationID))
	return nil
}

func (f *fakeSessionService) State(context.Context, string, string) domain.SessionState {
	return f.state
}

type fakeRouter struct {
	urls []string
	err  error
}

func (f *fakeRouter) Route(_ context.Context, rawURL string) error {
	f.urls = append(f.urls, rawURL)
	return f.err
}

// withServices swaps in the fakes for the duration of a test.
func withServices(t *testing.T, session driving.SessionService, router driving.CallbackRouter) {
	t.Helper()
	prevSession, prevRouter := sessionService, callbackRouter
	prevRegistry, prevConfig, prevPath := serviceRegistry, appConfig, configPath
	sessionService = session
	callbackRouter = router
	serviceRegistry = services.NewServiceRegistry(domain.PlatformDesktop)
	appConfig = config.Config{}
	configPath = ""
	t.Cleanup(func() {
		sessionService, callbackRouter = prevSession, prevRouter
		serviceRegistry, appConfig, configPath = prevRegistry, prevConfig, prevPath
	})
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}
