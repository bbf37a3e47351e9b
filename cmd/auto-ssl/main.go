package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/oetiker/auto-ssl/pkg/app"
	"github.com/oetiker/auto-ssl/pkg/common"
)

// Version information (this will be replaced during build)
var version = "local-version"

func main() {
	os.Exit(run(os.Args))
}

// run returns the process exit code. Failed entries do not change it,
// only settings and configuration problems do.
func run(args []string) int {
	application := app.NewApplication(version)

	if err := application.LoadEnvironment(); err != nil {
		handleApplicationError(err)
		return 1
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	if err := application.ParseFlags(fs, args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.DefaultRunTimeout)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		handleApplicationError(err)
		return 1
	}
	application.WaitForShutdown()
	return 0
}

// handleApplicationError provides user-friendly error messages and debugging information
func handleApplicationError(err error) {
	appErr := common.GetApplicationError(err)
	if appErr == nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stderr, "❌ Application Error:\n")
	fmt.Fprintf(os.Stderr, "%s\n", appErr.GetDetailedMessage())

	switch appErr.Type {
	case common.ErrorTypeConfig:
		fmt.Fprintf(os.Stderr, "\n🔧 Configuration Help:\n")
		fmt.Fprintf(os.Stderr, "   Use -print-config-template to see a valid template\n")
		fmt.Fprintf(os.Stderr, "   Every entry needs 'domains' and a 'target' with its section\n")
	case common.ErrorTypeValidation:
		fmt.Fprintf(os.Stderr, "\n✅ Validation Help:\n")
		fmt.Fprintf(os.Stderr, "   Check command line flags and AUTO_SSL_* variables\n")
		fmt.Fprintf(os.Stderr, "   Use -h for usage information\n")
	case common.ErrorTypeStorage:
		fmt.Fprintf(os.Stderr, "\n💾 Storage Help:\n")
		fmt.Fprintf(os.Stderr, "   Check permissions of the account directory and log file\n")
	}
}
