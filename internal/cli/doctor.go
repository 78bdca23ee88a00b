package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"storefront/internal/config"
	"storefront/internal/identity"
	"storefront/internal/transport"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local setup",
		Long: `Run diagnostic checks on this storefront profile.

This command checks:
- Configuration file presence
- Profile storage schema and the stored session id
- Backend WebSocket reachability`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNoContext
			}
			results := runChecks(cmd.Context(), cliCtx, timeout)
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "backend dial timeout")

	return cmd
}

type checkStatus string

const (
	checkOK      checkStatus = "ok"
	checkWarning checkStatus = "warning"
	checkError   checkStatus = "error"
)

type checkResult struct {
	name    string
	status  checkStatus
	message string
}

func runChecks(ctx context.Context, cliCtx *CLIContext, timeout time.Duration) []checkResult {
	results := []checkResult{
		checkSystemInfo(),
		checkConfigFile(cliCtx.ConfigPath),
	}
	storageResult, ids := checkStorage(cliCtx)
	results = append(results, storageResult)
	results = append(results, checkBackend(ctx, cliCtx.Config.Server.URL, ids.GetOrCreateSessionID(), timeout))
	return results
}

func printResults(w io.Writer, results []checkResult) {
	fmt.Fprintln(w, "Storefront Doctor")
	fmt.Fprintln(w, "=================")
	fmt.Fprintln(w)

	hasErrors, hasWarnings := false, false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case checkWarning:
			icon = "!"
			hasWarnings = true
		case checkError:
			icon = "✗"
			hasErrors = true
		}
		fmt.Fprintf(w, "%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Fprintln(w)
	switch {
	case hasErrors:
		fmt.Fprintln(w, "Some checks failed. Please address the issues above.")
	case hasWarnings:
		fmt.Fprintln(w, "Some warnings detected. Chat will work but may be degraded.")
	default:
		fmt.Fprintln(w, "All checks passed.")
	}
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  checkOK,
		message: fmt.Sprintf("Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfigFile(path string) checkResult {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return checkResult{name: "Config File", status: checkError, message: err.Error()}
	}
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return checkResult{
			name:    "Config File",
			status:  checkWarning,
			message: fmt.Sprintf("Not found at %s, using defaults (run 'storefront config init')", expanded),
		}
	}
	return checkResult{name: "Config File", status: checkOK, message: expanded}
}

// checkStorage opens the profile database and reports the provider to use
// for the remaining checks.
func checkStorage(cliCtx *CLIContext) (checkResult, *identity.Provider) {
	db, err := cliCtx.GetStorage()
	if err != nil {
		return checkResult{
			name:    "Profile Storage",
			status:  checkWarning,
			message: fmt.Sprintf("Cannot open %s: %v (session id will not persist)", cliCtx.StoragePath, err),
		}, identity.NewProvider(nil)
	}
	ids := identity.NewProvider(identity.NewDBStore(db))
	version, pending, err := db.SchemaVersion()
	if err != nil {
		return checkResult{name: "Profile Storage", status: checkError, message: err.Error()}, ids
	}
	if len(pending) > 0 {
		return checkResult{
			name:    "Profile Storage",
			status:  checkWarning,
			message: fmt.Sprintf("%s has unapplied migrations %v", db.Path(), pending),
		}, ids
	}
	return checkResult{
		name:    "Profile Storage",
		status:  checkOK,
		message: fmt.Sprintf("%s (schema v%d)", db.Path(), version),
	}, ids
}

func checkBackend(ctx context.Context, baseURL, sessionID string, timeout time.Duration) checkResult {
	url, err := transport.BuildURL(baseURL, sessionID)
	if err != nil {
		return checkResult{name: "Backend", status: checkError, message: err.Error()}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(dialCtx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return checkResult{
			name:    "Backend",
			status:  checkError,
			message: fmt.Sprintf("Cannot reach %s: %v", url, err),
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()

	return checkResult{name: "Backend", status: checkOK, message: "Reachable at " + url}
}
