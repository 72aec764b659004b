package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultCallbackAddr is where the temporary callback listener binds.
// The matching redirect URI must be registered on the API app.
const DefaultCallbackAddr = "127.0.0.1:8787"

// CallbackPath is the route the authorization server redirects to.
const CallbackPath = "/callback"

// callbackResult carries whatever the redirect delivered.
type callbackResult struct {
	code string
	err  error
}

// WaitForCallback runs a local HTTP listener until the authorization
// redirect arrives or ctx expires. It validates the state parameter and
// returns the authorization code. The listener is torn down on every exit
// path so the port is released for the next login attempt.
func WaitForCallback(ctx context.Context, addr, wantState string, logger *slog.Logger) (string, error) {
	if addr == "" {
		addr = DefaultCallbackAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("authflow: listen on %s: %w", addr, err)
	}

	results := make(chan callbackResult, 1)
	r := chi.NewRouter()
	r.Get(CallbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "Authorization failed. You can close this tab.", http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("authflow: authorization denied: %s", errCode)}
			return
		}
		if q.Get("state") != wantState {
			http.Error(w, "State mismatch. You can close this tab.", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("authflow: state mismatch in callback")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing code. You can close this tab.", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("authflow: callback has no code parameter")}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Login complete. You can close this tab.")
		results <- callbackResult{code: code}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callbackResult{err: fmt.Errorf("authflow: callback server: %w", err)}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("waiting for authorization redirect", slog.String("addr", addr))
	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("authflow: no redirect received: %w", ctx.Err())
	}
}
