// Command sessionflow runs the session lifecycle once: load configuration
// from the environment, recover or acquire a session, validate the access
// token and call the protected endpoint. The terminal status message is
// printed to stdout and the exit code reflects the phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"

	"github.com/sessionflow/sessionflow/oidc"
	"github.com/sessionflow/sessionflow/protected"
	"github.com/sessionflow/sessionflow/session"
	"github.com/sessionflow/sessionflow/store"
)

func main() {
	var (
		storeDir = flag.String("store-dir", defaultStoreDir(), "directory for persisted sessions")
		logLevel = flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
		envFile  = flag.String("env-file", "", "optional env file with SESSIONFLOW_* variables")
		signOut  = flag.Bool("sign-out", false, "delete the persisted session and exit")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "unable to load %s: %s\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// a .env in the working directory is optional
		_ = godotenv.Load()
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "sessionflow",
		Level: hclog.LevelFromString(*logLevel),
	})

	st, err := store.NewFileStore(*storeDir, store.WithLogger(logger.Named("store")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open session store: %s\n", err)
		os.Exit(1)
	}

	caller, err := protected.NewClientFromEnv(protected.WithLogger(logger.Named("api")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to configure the protected API client: %s\n", err)
		os.Exit(1)
	}

	var provider *oidc.Provider
	defer func() {
		if provider != nil {
			provider.Done()
		}
	}()

	controller, err := session.NewController(
		func() (*oidc.Config, error) { return oidc.NewConfigFromEnv() },
		func(cfg *oidc.Config) (session.IdentityProvider, error) {
			p, err := oidc.NewProvider(cfg, oidc.WithLogger(logger.Named("oidc")))
			if err != nil {
				return nil, err
			}
			provider = p
			return p, nil
		},
		st,
		caller,
		session.WithLogger(logger.Named("controller")),
		session.WithSignInOptions(oidc.WithAuthURLHandler(openBrowser)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	// ctrl-c while waiting for the browser flow cancels the run
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *signOut {
		if err := controller.SignOut(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		fmt.Println("Signed out")
		return
	}

	controller.Status().Subscribe(func(s session.Status) {
		logger.Debug("status changed", "phase", s.Phase, "message", s.Message, "loading", s.Loading)
	})

	status := controller.Run(ctx)
	fmt.Println(status.Message)
	if status.Phase != session.Succeeded {
		os.Exit(1)
	}
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sessionflow"
	}
	return filepath.Join(dir, "sessionflow", "sessions")
}

// openBrowser launches the default browser at the authorization URL. The
// URL is always printed so the flow can be completed manually when no
// browser opens.
func openBrowser(authURL string) error {
	fmt.Fprintf(os.Stderr, "Complete the login via your OIDC provider:\n\n    %s\n\n", authURL)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", authURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", authURL)
	default:
		cmd = exec.Command("xdg-open", authURL)
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open a browser automatically: %s.\nPlease visit the authorization URL manually.\n", err)
	}
	return nil
}
