// Command hml-producer fetches NWS HML forecast listings, skips products that
// were already delivered, and publishes the rest in issuance order.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for the run command.
const (
	exitFatal   = 1
	exitPartial = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitFatal
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		if code != exitPartial {
			fmt.Fprintln(os.Stderr, "hml-producer:", err)
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hml-producer",
		Short: "Deliver NWS HML forecast products to a durable queue exactly once",
		Long: "hml-producer reads the api.weather.gov product catalog for HML forecasts,\n" +
			"orders listings by issuance time, and publishes each product id once per\n" +
			"delivery window. Configuration is read from the environment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newServeCmd(), newInspectCmd())
	return root
}
