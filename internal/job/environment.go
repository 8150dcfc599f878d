package job

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/dataphantom/adhocsql/internal/session"
)

const DefaultRuntime = "duckdb"

// Environment describes the process that drives the run and the runtime
// selected for the driver and worker sides of the session.
type Environment struct {
	Executable    string
	GoVersion     string
	Platform      string
	DriverRuntime string
	WorkerRuntime string
}

func PrepareEnvironment(runtimeName string) Environment {
	runtimeName = strings.TrimSpace(runtimeName)
	if runtimeName == "" {
		runtimeName = DefaultRuntime
	}
	executable, err := os.Executable()
	if err != nil && len(os.Args) > 0 {
		executable = os.Args[0]
	}
	return Environment{
		Executable:    executable,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		DriverRuntime: runtimeName,
		WorkerRuntime: runtimeName,
	}
}

// Apply hands the runtime selection to the session explicitly instead of
// through process environment variables.
func (e Environment) Apply(cfg session.Config) session.Config {
	cfg.DriverRuntime = e.DriverRuntime
	cfg.WorkerRuntime = e.WorkerRuntime
	return cfg
}

func (e Environment) Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, "=== Environment Check ===")
	_, _ = fmt.Fprintln(w, "Executable:", e.Executable)
	_, _ = fmt.Fprintf(w, "Go version: %s (%s)\n", e.GoVersion, e.Platform)
	_, _ = fmt.Fprintln(w, "driver_runtime:", e.DriverRuntime)
	_, _ = fmt.Fprintln(w, "worker_runtime:", e.WorkerRuntime)
}
